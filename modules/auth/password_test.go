package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
	}{
		{name: "simple password", password: "password123"},
		{name: "complex password", password: "P@ssw0rd!#$%^&*()"},
		{name: "unicode password", password: "密码123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if hash == tt.password {
				t.Error("Hash() returned the plain password")
			}
			if !hasher.Verify(tt.password, hash) {
				t.Error("Verify() = false for the correct password")
			}
			if hasher.Verify(tt.password+"x", hash) {
				t.Error("Verify() = true for a wrong password")
			}
		})
	}
}

func TestNewPasswordHasher_CostFallback(t *testing.T) {
	tests := []struct {
		cost int
		want int
	}{
		{cost: 0, want: DefaultBcryptCost},
		{cost: 99, want: DefaultBcryptCost},
		{cost: bcrypt.MinCost, want: bcrypt.MinCost},
	}

	for _, tt := range tests {
		if got := NewPasswordHasher(tt.cost).cost; got != tt.want {
			t.Errorf("NewPasswordHasher(%d).cost = %d, want %d", tt.cost, got, tt.want)
		}
	}
}
