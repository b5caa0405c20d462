package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{"empty config", Config{}, false},
		{"missing host", Config{Port: "587", From: "team@example.com"}, false},
		{"missing port", Config{Host: "smtp.example.com", From: "team@example.com"}, false},
		{"missing from", Config{Host: "smtp.example.com", Port: "587"}, false},
		{"fully configured", Config{Host: "smtp.example.com", Port: "587", From: "team@example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.config).IsConfigured(); got != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSendMembershipApproved(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "team@example.com", FromName: "Taskroom"})

	var gotTo []string
	var gotMsg string
	svc.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	if err := svc.SendMembershipApproved("ada@example.com", "Ada", "Launch Plan"); err != nil {
		t.Fatalf("SendMembershipApproved failed: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "ada@example.com" {
		t.Errorf("recipients = %v", gotTo)
	}
	for _, want := range []string{"Launch Plan", "Ada", "Subject: You've been added to Launch Plan", "Taskroom <team@example.com>"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendUnconfiguredFails(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendMembershipApproved("ada@example.com", "Ada", "Launch Plan"); err == nil {
		t.Error("expected an error when SMTP is not configured")
	}
}
