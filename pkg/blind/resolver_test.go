package blind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharacteristicResolver(t *testing.T) {
	r := NewCharacteristicResolver(DefaultProfile())

	t.Run("resolves both handles", func(t *testing.T) {
		set, ok := r.Resolve(blindCatalogue())

		require.True(t, ok, "MUST resolve the default catalogue")
		assert.Equal(t, DefaultPositionReadUUID, set.Read.UUID())
		assert.Equal(t, DefaultPositionWriteUUID, set.Write.UUID())
		assert.Equal(t, DefaultNameUUID, set.Name.UUID())
	})

	t.Run("matches regardless of case and dashes", func(t *testing.T) {
		services := []Service{&fakeService{
			uuid: "346F721A14F740658A1FAD91E35F9BB2",
			chars: []Characteristic{
				&fakeChar{uuid: "2F6F41E166AF4A09B933A700EA6F0C52"},
				&fakeChar{uuid: "2f6f41e1-66bf-4a09-b933-a700ea6f0c52"},
			},
		}}

		set, ok := r.Resolve(services)

		require.True(t, ok)
		assert.Nil(t, set.Name, "name handle MUST stay nil when not exposed")
	})

	t.Run("one handle is not enough", func(t *testing.T) {
		services := []Service{&fakeService{
			uuid:  DefaultServiceUUID,
			chars: []Characteristic{&fakeChar{uuid: DefaultPositionReadUUID}},
		}}

		set, ok := r.Resolve(services)

		assert.False(t, ok, "MUST fail when only the read handle is present")
		assert.False(t, set.Resolved(), "MUST NOT return a partial set")
		assert.Nil(t, set.Read)
	})

	t.Run("service missing", func(t *testing.T) {
		services := []Service{&fakeService{uuid: "180f", chars: []Characteristic{&fakeChar{uuid: DefaultPositionReadUUID}}}}

		_, ok := r.Resolve(services)

		assert.False(t, ok)
	})

	t.Run("repeated calls have no side effects", func(t *testing.T) {
		_, ok1 := r.Resolve(nil)
		set, ok2 := r.Resolve(blindCatalogue())

		assert.False(t, ok1)
		assert.True(t, ok2, "second call with a fresh catalogue MUST resolve")
		assert.True(t, set.Resolved())
	})
}

func TestPositionCodec(t *testing.T) {
	assert.Equal(t, []byte{0x50, 0x00}, EncodePosition(80))
	assert.Equal(t, []byte{0x34, 0x12}, EncodePosition(0x1234))

	v, err := DecodePosition([]byte{0x2C, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint16(44), v)

	_, err = DecodePosition([]byte{0x2C})
	assert.ErrorIs(t, err, ErrDecode, "short payload MUST be a decode error")

	_, err = DecodePosition([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrDecode, "long payload MUST be a decode error")
}

func TestErrorKinds(t *testing.T) {
	err := NewError(KindSoftTransient, "read_position", assert.AnError)

	assert.ErrorIs(t, err, ErrSoftTransient)
	assert.NotErrorIs(t, err, ErrTransport, "kinds MUST NOT match each other")
	assert.ErrorIs(t, err, assert.AnError, "cause MUST stay reachable")
	assert.Equal(t, KindSoftTransient, KindOf(err))
	assert.True(t, IsTransportFailure(err))
	assert.False(t, IsTransportFailure(ErrDecode))
	assert.Equal(t, "read_position: soft_transient: "+assert.AnError.Error(), err.Error())
}
