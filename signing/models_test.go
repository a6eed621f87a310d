package signing

import (
	"testing"
	"time"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		seller *time.Time
		buyer  *time.Time
		want   Status
	}{
		{"neither signed", nil, nil, StatusPendingBoth},
		{"seller signed", &now, nil, StatusPendingBuyer},
		{"buyer signed", nil, &now, StatusPendingSeller},
		{"both signed", &now, &now, StatusCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.seller, tc.buyer); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
