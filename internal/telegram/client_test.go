package telegram

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// Chat ID parsing runs before any network call to the Bot API.
	_, err := NewClient("", "not-a-number", models.SeverityMedium, 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func anomaly(service string, severity models.Severity, detected, expected float64) *models.Anomaly {
	return &models.Anomaly{
		ServiceName:    service,
		Severity:       severity,
		DetectedValue:  detected,
		ExpectedValue:  expected,
		Message:        fmt.Sprintf("%s moved to $%.2f", service, detected),
		Recommendation: models.TypeCostSpike.Recommendation(),
		DetectedAt:     time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC),
	}
}

func TestFilterBySeverity(t *testing.T) {
	in := []*models.Anomaly{
		anomaly("EC2", models.SeverityLow, 2, 1),
		anomaly("S3", models.SeverityMedium, 2, 1),
		anomaly("RDS", models.SeverityHigh, 2, 1),
	}
	got := filterBySeverity(in, models.SeverityMedium)
	if len(got) != 2 {
		t.Fatalf("got %d anomalies, want 2", len(got))
	}
	if got[0].ServiceName != "RDS" || got[1].ServiceName != "S3" {
		t.Errorf("expected most severe first, got %s, %s", got[0].ServiceName, got[1].ServiceName)
	}
	if len(filterBySeverity(in, models.SeverityLow)) != 3 {
		t.Error("low threshold should keep everything")
	}
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage("acme-corp", []*models.Anomaly{
		anomaly("EC2", models.SeverityHigh, 100, 10),
		anomaly("S3", models.SeverityMedium, 1, 10),
	})
	for _, want := range []string{
		"acme\\-corp",
		"1\\. 📈 *EC2* \\[high\\] 2024\\-05\\-09",
		"EC2 moved to $100\\.00",
		"2\\. 📉 *S3*",
		"💡",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessage_Truncates(t *testing.T) {
	var in []*models.Anomaly
	for i := 0; i < maxAnomaliesPerMessage+3; i++ {
		in = append(in, anomaly(fmt.Sprintf("svc%d", i), models.SeverityHigh, 2, 1))
	}
	msg := formatMessage("u1", in)
	if !strings.Contains(msg, "and 3 more") {
		t.Errorf("expected overflow note:\n%s", msg)
	}
	if strings.Contains(msg, fmt.Sprintf("svc%d", maxAnomaliesPerMessage)) {
		t.Error("overflowing anomaly should not be listed")
	}
}
