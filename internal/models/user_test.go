package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPagination(t *testing.T) {
	assert.Equal(t, 3, NewPagination(1, 20, 41).TotalPages)
	assert.Equal(t, 2, NewPagination(2, 20, 40).TotalPages)
	assert.Equal(t, 1, NewPagination(1, 20, 0).TotalPages)
	assert.Equal(t, 1, NewPagination(1, 0, 99).TotalPages)
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, RoleAdmin.Staff())
	assert.True(t, RoleSuperAdmin.Staff())
	assert.False(t, RoleStudent.Staff())
	assert.True(t, RoleSuperAdmin.Elevated())
	assert.False(t, RoleAdmin.Elevated())
}
