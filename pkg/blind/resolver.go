package blind

// Default GATT layout of the blind controller.
const (
	DefaultServiceUUID       = "346f721a-14f7-4065-8a1f-ad91e35f9bb2"
	DefaultPositionReadUUID  = "2f6f41e1-66af-4a09-b933-a700ea6f0c52"
	DefaultPositionWriteUUID = "2f6f41e1-66bf-4a09-b933-a700ea6f0c52"
	DefaultNameUUID          = "3cdeb180-ee8d-4e56-874e-afd5c2fa2d67"
)

// Profile names the service and characteristics the controller talks to.
type Profile struct {
	Service string
	Read    string
	Write   string
	Name    string // optional
}

// DefaultProfile returns the layout used by the stock firmware.
func DefaultProfile() Profile {
	return Profile{
		Service: DefaultServiceUUID,
		Read:    DefaultPositionReadUUID,
		Write:   DefaultPositionWriteUUID,
		Name:    DefaultNameUUID,
	}
}

// CharacteristicSet holds the handles resolved for one connection instance.
type CharacteristicSet struct {
	Read  Characteristic
	Write Characteristic
	Name  Characteristic // nil when the firmware does not expose it
}

// Resolved reports whether both required handles are present.
func (s CharacteristicSet) Resolved() bool {
	return s.Read != nil && s.Write != nil
}

// CharacteristicResolver maps a discovered catalogue onto a CharacteristicSet.
type CharacteristicResolver struct {
	service string
	read    string
	write   string
	name    string
}

func NewCharacteristicResolver(p Profile) *CharacteristicResolver {
	return &CharacteristicResolver{
		service: NormalizeUUID(p.Service),
		read:    NormalizeUUID(p.Read),
		write:   NormalizeUUID(p.Write),
		name:    NormalizeUUID(p.Name),
	}
}

// Resolve locates the configured service and its read/write characteristics.
// It is both-or-nothing: if either required handle is absent the returned set is
// empty and ok is false. Resolve is pure, so calling it again with a freshly
// fetched catalogue simply produces a new set.
func (r *CharacteristicResolver) Resolve(services []Service) (set CharacteristicSet, ok bool) {
	for _, svc := range services {
		if NormalizeUUID(svc.UUID()) != r.service {
			continue
		}
		var found CharacteristicSet
		for _, c := range svc.Characteristics() {
			switch NormalizeUUID(c.UUID()) {
			case r.read:
				found.Read = c
			case r.write:
				found.Write = c
			case r.name:
				if r.name != "" {
					found.Name = c
				}
			}
		}
		if !found.Resolved() {
			return CharacteristicSet{}, false
		}
		return found, true
	}
	return CharacteristicSet{}, false
}
