package service

import (
	"testing"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

func TestValidateToken(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "test-secret"})

	valid, err := svc.GenerateStudentToken("stu-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateStudentToken: %v", err)
	}
	expired, _ := svc.GenerateStudentToken("stu-1", -time.Minute)
	foreign, _ := NewAuthService(&config.Config{JWTSecret: "other"}).GenerateStudentToken("stu-1", time.Hour)

	// Portal tokens may carry the student only in the subject.
	subjectOnly, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "stu-2",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: TokenTypeStudent,
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name        string
		token       string
		wantErr     bool
		wantStudent string
	}{
		{"valid", valid, false, "stu-1"},
		{"subject fallback", subjectOnly, false, "stu-2"},
		{"expired", expired, true, ""},
		{"wrong secret", foreign, true, ""},
		{"garbage", "not-a-jwt", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateToken error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if claims.StudentID != tt.wantStudent || claims.TokenType != TokenTypeStudent {
				t.Errorf("claims = %+v, want student %q", claims, tt.wantStudent)
			}
		})
	}
}

func TestValidateTokenRejectsNoneAlgorithm(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "test-secret"})
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TokenType: TokenTypeStudent, StudentID: "stu-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(unsigned); err == nil {
		t.Error("ValidateToken accepted an unsigned token")
	}
}
