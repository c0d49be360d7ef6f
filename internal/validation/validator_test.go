package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type createDevice struct {
	DevEUI          string `json:"dev_eui" validate:"required,eui64"`
	JoinEUI         string `json:"join_eui" validate:"required,eui64"`
	Name            string `json:"name" validate:"max=8"`
	ProtocolVersion string `json:"protocol_version" validate:"required,lorawan"`
	AppKey          string `json:"app_key" validate:"required,aes128key"`
	DevAddr         string `json:"dev_addr" validate:"omitempty,devaddr"`
}

func valid() createDevice {
	return createDevice{
		DevEUI:          "0102030405060708",
		JoinEUI:         "70b3d57ed0000000",
		ProtocolVersion: "1.0.3",
		AppKey:          "000102030405060708090A0B0C0D0E0F",
	}
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		Name  string
		Edit  func(*createDevice)
		Error string
	}{
		{"valid", func(*createDevice) {}, ""},
		{"missing dev_eui", func(d *createDevice) { d.DevEUI = "" }, "dev_eui: field is required"},
		{"short dev_eui", func(d *createDevice) { d.DevEUI = "0102" }, "dev_eui: must be a hex encoded eui64"},
		{"non hex key", func(d *createDevice) { d.AppKey = "zz0102030405060708090a0b0c0d0e0f" }, "app_key: must be a hex encoded aes128key"},
		{"version", func(d *createDevice) { d.ProtocolVersion = "1.2" }, "protocol_version: unknown protocol version"},
		{"dev_addr", func(d *createDevice) { d.DevAddr = "260b" }, "dev_addr: must be a hex encoded devaddr"},
		{"name", func(d *createDevice) { d.Name = "a very long name" }, "name: max length is 8"},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			d := valid()
			tst.Edit(&d)
			err := v.Validate(d)
			if tst.Error == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tst.Error)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	err := NewValidator().Validate(createDevice{})
	assert.Contains(t, err.Error(), "dev_eui: field is required")
	assert.Contains(t, err.Error(), "; ")
}
