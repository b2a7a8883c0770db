// Package google provides Google API client initialization for Sijil
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	envEnabled     = "GOOGLE_SHEETS_ENABLED"
	envKeyFile     = "GOOGLE_SERVICE_ACCOUNT_KEY_FILE"
	envSpreadsheet = "GOOGLE_SHEETS_SPREADSHEET_ID"
	defaultKeyFile = "../google_sheets.json" // repo root, alongside .env
)

// IsEnabled returns true if spreadsheet ingest is enabled via environment variable
func IsEnabled() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(envEnabled)))
	return val == "true" || val == "1"
}

// GetSpreadsheetID returns the configured spreadsheet ID
func GetSpreadsheetID() string {
	return strings.TrimSpace(os.Getenv(envSpreadsheet))
}

// NewSheetsClient creates a Google Sheets API client using service account
// credentials. Returns nil, nil if spreadsheet ingest is disabled (graceful
// degradation). Ingest only reads, so the client asks for the read-only scope.
func NewSheetsClient(ctx context.Context) (*sheets.Service, error) {
	if !IsEnabled() {
		return nil, nil
	}

	credJSON, err := getCredentialsJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credJSON, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	client := config.Client(ctx)

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return srv, nil
}

// FirstSheetTitle returns the title of the first sheet in the spreadsheet.
// Subscriber exports always live on the first tab regardless of its name.
func FirstSheetTitle(srv *sheets.Service, spreadsheetID string) (string, error) {
	spreadsheet, err := srv.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Do()
	if err != nil {
		return "", fmt.Errorf("failed to get spreadsheet metadata: %w", err)
	}
	if len(spreadsheet.Sheets) == 0 {
		return "", fmt.Errorf("spreadsheet %s has no sheets", spreadsheetID)
	}
	return spreadsheet.Sheets[0].Properties.Title, nil
}

// getCredentialsJSON retrieves the service account credentials JSON.
// Reads from file specified by GOOGLE_SERVICE_ACCOUNT_KEY_FILE env var,
// defaulting to "google_sheets.json" in the repo root.
func getCredentialsJSON() ([]byte, error) {
	keyFile := strings.TrimSpace(os.Getenv(envKeyFile))
	if keyFile == "" {
		keyFile = defaultKeyFile
	}

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", keyFile, err)
	}
	return data, nil
}
