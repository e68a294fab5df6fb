// Audittrail - Security Event Audit Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/audittrail

package validation

import (
	"strings"
	"testing"
)

// ===================================================================================================
// Singleton Validator Tests
// ===================================================================================================

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

// ===================================================================================================
// Custom Tag Tests
// ===================================================================================================

type taggedStruct struct {
	Kind     string   `validate:"required,audit_kind"`
	Rollover string   `validate:"omitempty,rollover"`
	Hosts    []string `validate:"dive,hostport"`
	Size     int      `validate:"min=1"`
}

func TestValidateStruct_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input taggedStruct
	}{
		{"minimal", taggedStruct{Kind: "access_granted", Size: 1}},
		{"rollover lower case", taggedStruct{Kind: "run_as_denied", Rollover: "daily", Size: 1}},
		{"host port", taggedStruct{Kind: "connection_denied", Hosts: []string{"10.0.0.1:4222"}, Size: 5}},
		{"nats url", taggedStruct{Kind: "tampered_request", Hosts: []string{"nats://audit.example.com:4222", "tls://b:4443"}, Size: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateStruct(&tt.input); err != nil {
				t.Errorf("ValidateStruct() = %v, want nil", err)
			}
		})
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   taggedStruct
		wantTag string
	}{
		{"missing kind", taggedStruct{Size: 1}, "required"},
		{"unknown kind", taggedStruct{Kind: "access_maybe", Size: 1}, "audit_kind"},
		{"bad rollover", taggedStruct{Kind: "access_granted", Rollover: "YEARLY", Size: 1}, "rollover"},
		{"host without port", taggedStruct{Kind: "access_granted", Hosts: []string{"localhost"}, Size: 1}, "hostport"},
		{"http url", taggedStruct{Kind: "access_granted", Hosts: []string{"http://localhost:4222"}, Size: 1}, "hostport"},
		{"size zero", taggedStruct{Kind: "access_granted"}, "min"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if err == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), err)
			}
			if errs[0].Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", errs[0].Tag(), tt.wantTag)
			}
		})
	}
}

// ===================================================================================================
// APIError Conversion Tests
// ===================================================================================================

func TestToAPIError_SingleError(t *testing.T) {
	err := ValidateStruct(&taggedStruct{Kind: "nope", Size: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "known audit event name") {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Details["tag"] != "audit_kind" {
		t.Errorf("Details[tag] = %v, want audit_kind", apiErr.Details["tag"])
	}
}

func TestToAPIError_MultipleErrors(t *testing.T) {
	err := ValidateStruct(&taggedStruct{Rollover: "never"})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr := err.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Details[fields] has type %T", apiErr.Details["fields"])
	}
	if len(fields) != 3 {
		t.Errorf("got %d field errors, want 3", len(fields))
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("Error() should join messages, got %q", err.Error())
	}
}

func TestCheckHostPort(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"127.0.0.1:4222", false},
		{"[::1]:4222", false},
		{"nats://user@host:4222", false},
		{"tls://host", false},
		{"host", true},
		{":4222", true},
		{"ws://host:80", true},
		{"nats://", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := CheckHostPort(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckHostPort(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}
