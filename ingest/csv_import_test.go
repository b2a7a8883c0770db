package ingest

import "testing"

func TestLayoutFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  []string
		want    ColumnLayout
		wantErr bool
	}{
		{
			name: "standard export order",
			header: []string{
				"account_number", "subscriber_name", "region",
				"meter_number", "category", "last_reading", "status", "is_refused",
			},
			want: ColumnLayout{Account: 0, Name: 1, Region: 2, Meter: 3, Category: 4, LastReading: 5},
		},
		{
			name: "reordered columns",
			header: []string{
				"meter_number", "account_number", "last_reading",
				"subscriber_name", "region", "category",
			},
			want: ColumnLayout{Account: 1, Name: 3, Region: 4, Meter: 0, Category: 5, LastReading: 2},
		},
		{
			name:   "optional columns absent",
			header: []string{"account_number", "subscriber_name", "region", "meter_number"},
			want:   ColumnLayout{Account: 0, Name: 1, Region: 2, Meter: 3, Category: 4, LastReading: 4},
		},
		{
			name:    "missing identifying column",
			header:  []string{"account_number", "subscriber_name", "region"},
			wantErr: true,
		},
		{
			name:    "empty header",
			header:  []string{""},
			wantErr: true,
		},
		{
			name:   "case and whitespace tolerated",
			header: []string{" Account_Number ", "SUBSCRIBER_NAME", "Region", "Meter_Number"},
			want:   ColumnLayout{Account: 0, Name: 1, Region: 2, Meter: 3, Category: 4, LastReading: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := layoutFromHeader(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("layout = %+v, want %+v", got, tt.want)
			}
		})
	}
}
