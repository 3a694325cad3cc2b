//go:build darwin

package main

const (
	exampleDeviceAddress = "01234567-89AB-CDEF-0123-456789ABCDEF"
	deviceAddressNote    = "Device address format: CoreBluetooth peripheral UUID, with or without dashes\n  Use 'blindctl scan' to discover blinds"
)
