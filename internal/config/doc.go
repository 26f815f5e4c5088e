// Package config loads the serial-source agent configuration.
//
// Values come, in increasing precedence, from built-in defaults, an optional
// YAML file and SERIAL_SOURCE_* environment variables (dots in keys become
// underscores, e.g. SERIAL_SOURCE_DEVICE_EXPLICIT_DEVICE_PATH). The device
// section maps onto acquire.Config through DeviceConfig.Acquire.
package config
