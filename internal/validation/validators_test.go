package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateObjectName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "filter", false},
		{"spaces allowed by kernel", "my table", false},
		{"max length", strings.Repeat("a", 255), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", 256), true},
		{"nul byte", "fil\x00ter", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObjectName("table", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateObjectName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSetName(t *testing.T) {
	assert.NoError(t, ValidateSetName("blocklist_v4"))
	assert.NoError(t, ValidateSetName("__set0"))
	assert.Error(t, ValidateSetName("bad name"))
	assert.Error(t, ValidateSetName(""))
}

func TestValidateInterfaceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Happy paths
		{"simple", "eth0", false},
		{"with dash", "eth-0", false},
		{"with underscore", "eth_0", false},
		{"with dot (vlan)", "eth0.100", false},
		{"max length", "eth0123456789ab", false}, // 15 chars

		// Sad paths
		{"empty", "", true},
		{"too long", "eth01234567890123", true}, // 17 chars
		{"space", "eth 0", true},
		{"semicolon", "eth0;rm", true},
		{"newline", "eth0\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInterfaceName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInterfaceName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateLogPrefix(t *testing.T) {
	assert.NoError(t, ValidateLogPrefix("DROP: "))
	assert.NoError(t, ValidateLogPrefix(""))
	assert.Error(t, ValidateLogPrefix(strings.Repeat("x", 128)))
}

func TestParseIPOrCIDR(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"10.0.0.1", "10.0.0.1/32", false},
		{"10.0.0.7/24", "10.0.0.0/24", false},
		{"2001:db8::1", "2001:db8::1/128", false},
		{"::ffff:10.1.2.3", "10.1.2.3/32", false},
		{"", "", true},
		{"10.0.0.0/33", "", true},
		{"not-an-ip", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParseIPOrCIDR(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestValidatePortNumber(t *testing.T) {
	assert.NoError(t, ValidatePortNumber(1))
	assert.NoError(t, ValidatePortNumber(65535))
	assert.Error(t, ValidatePortNumber(0))
	assert.Error(t, ValidatePortNumber(65536))
}

func TestProtocolNumber(t *testing.T) {
	n, err := ProtocolNumber("TCP")
	assert.NoError(t, err)
	assert.Equal(t, uint8(6), n)

	n, err = ProtocolNumber("icmpv6")
	assert.NoError(t, err)
	assert.Equal(t, uint8(58), n)

	_, err = ProtocolNumber("bogus")
	assert.Error(t, err)
}
