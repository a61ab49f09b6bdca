package config

import (
	"fmt"

	abcc "github.com/samsamfire/goabcc"
)

// IdentitySource gives access to the module information collected
// during the setup, [driver.Driver] implements it.
type IdentitySource interface {
	FirmwareVersion() abcc.FwVersion
	ModuleType() uint16
	NetworkType() uint16
	NetFormat() abcc.NetFormat
	ParameterSupport() abcc.ParameterSupport
	PdSize() (readSize uint16, writeSize uint16)
}

type Identity struct {
	FirmwareVersion  abcc.FwVersion
	ModuleType       uint16
	NetworkType      uint16
	NetFormat        abcc.NetFormat
	ParameterSupport bool
	ReadPdSize       uint16
	WritePdSize      uint16
}

// Read the identity of the module, only meaningful once the setup is done
func ReadIdentity(src IdentitySource) Identity {
	identity := Identity{
		FirmwareVersion:  src.FirmwareVersion(),
		ModuleType:       src.ModuleType(),
		NetworkType:      src.NetworkType(),
		NetFormat:        src.NetFormat(),
		ParameterSupport: src.ParameterSupport() == abcc.ParamSupport,
	}
	identity.ReadPdSize, identity.WritePdSize = src.PdSize()
	return identity
}

func (identity Identity) String() string {
	v := identity.FirmwareVersion
	return fmt.Sprintf("firmware %d.%02d.%02d | module type x%04x | network type x%04x | %v | parameter support %v | pd size rd %d wr %d",
		v.Major, v.Minor, v.Build,
		identity.ModuleType,
		identity.NetworkType,
		identity.NetFormat,
		identity.ParameterSupport,
		identity.ReadPdSize,
		identity.WritePdSize,
	)
}
