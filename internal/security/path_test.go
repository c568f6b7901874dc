package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	assert.NoError(t, ValidateFilePath("relay.db"))
	assert.NoError(t, ValidateFilePath("/var/lib/cobrarelay/relay.db"))
	assert.NoError(t, ValidateFilePath("data/./relay.db"))

	assert.Error(t, ValidateFilePath(""))
	assert.Error(t, ValidateFilePath("../secrets/relay.db"))
	assert.Error(t, ValidateFilePath("data/../../etc/passwd"))
	assert.Error(t, ValidateFilePath("relay\x00.db"))
}
