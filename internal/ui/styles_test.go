package ui

import (
	"strings"
	"testing"
)

func TestFormatControl(t *testing.T) {
	tests := []struct {
		name string
		key  string
		desc string
		want string
	}{
		{
			name: "basic control",
			key:  "q",
			desc: "Quit",
			want: "q - Quit",
		},
		{
			name: "longer key",
			key:  "Tab",
			desc: "Disconnect client",
			want: "Tab - Disconnect client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatControl(tt.key, tt.desc)
			// Check that it contains both key and description
			if !strings.Contains(got, tt.key) {
				t.Errorf("FormatControl() missing key %q", tt.key)
			}
			if !strings.Contains(got, tt.desc) {
				t.Errorf("FormatControl() missing description %q", tt.desc)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		status    string
	}{
		{
			name:      "connected status",
			connected: true,
			status:    "Compositor running",
		},
		{
			name:      "disconnected status",
			connected: false,
			status:    "Disconnected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatStatus(tt.connected, tt.status)

			// Should contain the status text
			if !strings.Contains(got, tt.status) {
				t.Errorf("FormatStatus() missing status text %q", tt.status)
			}

			// Should have different indicators
			if tt.connected && !strings.Contains(got, "●") {
				t.Errorf("FormatStatus() connected=true should contain filled circle")
			}
			if !tt.connected && !strings.Contains(got, "○") {
				t.Errorf("FormatStatus() connected=false should contain empty circle")
			}
		})
	}
}

func TestFormatListItem(t *testing.T) {
	tests := []struct {
		name   string
		item   string
		active bool
	}{
		{
			name:   "inactive item",
			item:   "wl_compositor",
			active: false,
		},
		{
			name:   "active item",
			item:   "xdg_wm_base",
			active: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatListItem(tt.item, tt.active)

			// Should contain bullet point and item
			if !strings.Contains(got, "•") {
				t.Errorf("FormatListItem() missing bullet point")
			}
			if !strings.Contains(got, tt.item) {
				t.Errorf("FormatListItem() missing item text %q", tt.item)
			}
		})
	}
}

func TestCreateSeparator(t *testing.T) {
	got := CreateSeparator(0, "")
	if strings.Count(got, "─") != 50 {
		t.Errorf("CreateSeparator() default width should be 50, got %q", got)
	}
	if got := CreateSeparator(3, "="); !strings.Contains(got, "===") {
		t.Errorf("CreateSeparator() missing custom character, got %q", got)
	}
}
