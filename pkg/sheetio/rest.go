package sheetio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultSheetsBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// RESTGrid talks to the Sheets REST API. The access token is supplied
// by the caller; refresh is the caller's problem.
type RESTGrid struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewRESTGrid returns a Grid over the hosted Sheets API.
func NewRESTGrid(token string) *RESTGrid {
	return &RESTGrid{
		BaseURL: defaultSheetsBaseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// colLetter converts a 1-based column index to A1 letters.
func colLetter(col int) string {
	s := ""
	for col > 0 {
		col--
		s = string(rune('A'+col%26)) + s
		col /= 26
	}
	return s
}

// a1Range renders a rectangle in A1 notation. Zero endRow/endCol mean
// open-ended.
func a1Range(tab string, startRow, endRow, startCol, endCol int) string {
	start := fmt.Sprintf("%s%d", colLetter(startCol), startRow)
	if endRow == 0 && endCol == 0 {
		return fmt.Sprintf("%s!%s:%s", tab, start, colLetter(startCol+51))
	}
	if endCol == 0 {
		endCol = startCol + 51
	}
	if endRow == 0 {
		return fmt.Sprintf("%s!%s:%s", tab, start, colLetter(endCol))
	}
	return fmt.Sprintf("%s!%s:%s%d", tab, start, colLetter(endCol), endRow)
}

func (g *RESTGrid) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sheets api %s: status %d: %s", method, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetRange reads one rectangle of cell values.
func (g *RESTGrid) GetRange(ctx context.Context, spreadsheetID, tab string, startRow, endRow, startCol, endCol int) ([][]any, error) {
	rng := a1Range(tab, startRow, endRow, startCol, endCol)
	u := fmt.Sprintf("%s/%s/values/%s?valueRenderOption=UNFORMATTED_VALUE",
		g.BaseURL, spreadsheetID, url.PathEscape(rng))
	var out struct {
		Values [][]any `json:"values"`
	}
	if err := g.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("get range %s: %w", rng, err)
	}
	return out.Values, nil
}

// BatchUpdate writes several rectangles in one call.
func (g *RESTGrid) BatchUpdate(ctx context.Context, spreadsheetID string, updates []ValueRange) error {
	if len(updates) == 0 {
		return nil
	}
	type valueRange struct {
		Range  string  `json:"range"`
		Values [][]any `json:"values"`
	}
	body := struct {
		ValueInputOption string       `json:"valueInputOption"`
		Data             []valueRange `json:"data"`
	}{ValueInputOption: "RAW"}
	for _, vr := range updates {
		endRow := vr.StartRow + len(vr.Values) - 1
		endCol := vr.StartCol
		for _, row := range vr.Values {
			if c := vr.StartCol + len(row) - 1; c > endCol {
				endCol = c
			}
		}
		body.Data = append(body.Data, valueRange{
			Range:  a1Range(vr.Tab, vr.StartRow, endRow, vr.StartCol, endCol),
			Values: vr.Values,
		})
	}
	u := fmt.Sprintf("%s/%s/values:batchUpdate", g.BaseURL, spreadsheetID)
	if err := g.do(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("batch update: %w", err)
	}
	return nil
}

// Append appends rows after the last populated row at or below startRow.
func (g *RESTGrid) Append(ctx context.Context, spreadsheetID, tab string, startRow int, values [][]any) error {
	if len(values) == 0 {
		return nil
	}
	rng := a1Range(tab, startRow, 0, 1, 0)
	u := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		g.BaseURL, spreadsheetID, url.PathEscape(rng))
	body := struct {
		Values [][]any `json:"values"`
	}{Values: values}
	if err := g.do(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("append %s: %w", tab, err)
	}
	return nil
}

// ProtectColumns adds warning-only protections over whole columns. The
// tab is resolved to its sheet id first.
func (g *RESTGrid) ProtectColumns(ctx context.Context, spreadsheetID, tab string, cols []int, description string) error {
	if len(cols) == 0 {
		return nil
	}
	sheetID, err := g.sheetID(ctx, spreadsheetID, tab)
	if err != nil {
		return err
	}
	type request = map[string]any
	var requests []request
	for _, col := range cols {
		requests = append(requests, request{
			"addProtectedRange": map[string]any{
				"protectedRange": map[string]any{
					"range": map[string]any{
						"sheetId":          sheetID,
						"startColumnIndex": col - 1,
						"endColumnIndex":   col,
					},
					"description": description,
					"warningOnly": true,
				},
			},
		})
	}
	u := fmt.Sprintf("%s/%s:batchUpdate", g.BaseURL, spreadsheetID)
	body := map[string]any{"requests": requests}
	if err := g.do(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("protect columns %s: %w", tab, err)
	}
	return nil
}

func (g *RESTGrid) sheetID(ctx context.Context, spreadsheetID, tab string) (int64, error) {
	u := fmt.Sprintf("%s/%s?fields=sheets.properties", g.BaseURL, spreadsheetID)
	var out struct {
		Sheets []struct {
			Properties struct {
				SheetID int64  `json:"sheetId"`
				Title   string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := g.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return 0, fmt.Errorf("lookup sheet id: %w", err)
	}
	for _, s := range out.Sheets {
		if s.Properties.Title == tab {
			return s.Properties.SheetID, nil
		}
	}
	return 0, fmt.Errorf("tab %q not found in %s", tab, spreadsheetID)
}
