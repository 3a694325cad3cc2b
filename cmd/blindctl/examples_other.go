//go:build !darwin

package main

const (
	exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"
	deviceAddressNote    = "Device address format: Bluetooth MAC address\n  Use 'blindctl scan' to discover blinds"
)
