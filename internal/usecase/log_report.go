package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// Log messages the report keys on. They are written by GridService and SeasonController.
const (
	msgOrderSubmitted = ">>> Order submitted <<<"
	msgOrderRejected  = "Order rejected, reverting level"
	msgTransition     = "Level transition"
	msgSeasonReset    = ">>> Anchor sold, season reset <<<"
	msgTickSkipped    = "Tick skipped"
	msgWiped          = ">>> Ledger wiped by operator <<<"
)

type logLine struct {
	TS             json.RawMessage `json:"ts"`
	Msg            string          `json:"msg"`
	Side           string          `json:"side"`
	OrderStatus    string          `json:"order_status"`
	Season         int             `json:"season"`
	BankedPL       float64         `json:"banked_pl"`
	StartingEquity float64         `json:"starting_equity"`
	Error          string          `json:"error"`
}

// SeasonSummary is one completed season as seen in the log.
type SeasonSummary struct {
	Season         int       `json:"season"`
	At             time.Time `json:"at"`
	BankedPL       float64   `json:"banked_pl"`
	StartingEquity float64   `json:"starting_equity"`
}

// LogReport summarizes grid activity from the JSON log.
type LogReport struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Lines         int             `json:"lines"`
	Submitted     map[string]int  `json:"submitted"`
	Rejected      int             `json:"rejected"`
	Fills         map[string]int  `json:"fills"`
	Seasons       []SeasonSummary `json:"seasons"`
	Wipes         int             `json:"wipes"`
	TickErrors    int             `json:"tick_errors"`
	TopTickErrors []string        `json:"top_tick_errors"`
}

// AnalyzeLog reads zap JSON lines and tallies orders, fills, seasons and
// skipped ticks. Lines that are not JSON are ignored.
func AnalyzeLog(r io.Reader) (*LogReport, error) {
	report := &LogReport{
		Submitted: make(map[string]int),
		Fills:     make(map[string]int),
	}
	tickErrors := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line logLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		report.Lines++

		at := parseLogTime(line.TS)
		if !at.IsZero() {
			if report.From.IsZero() {
				report.From = at
			}
			report.To = at
		}

		switch line.Msg {
		case msgOrderSubmitted:
			report.Submitted[line.Side]++
		case msgOrderRejected:
			report.Rejected++
		case msgTransition:
			if line.OrderStatus == "filled" {
				report.Fills[line.Side]++
			}
		case msgSeasonReset:
			report.Seasons = append(report.Seasons, SeasonSummary{
				Season:         line.Season,
				At:             at,
				BankedPL:       line.BankedPL,
				StartingEquity: line.StartingEquity,
			})
		case msgWiped:
			report.Wipes++
		case msgTickSkipped:
			report.TickErrors++
			tickErrors[line.Error]++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	report.TopTickErrors = topKeys(tickErrors, 5)
	return report, nil
}

// parseLogTime accepts the file logger's ISO8601 time and the production
// encoder's epoch seconds.
func parseLogTime(raw json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, _ := time.Parse("2006-01-02T15:04:05.000Z0700", s)
		return t
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil && epoch > 0 {
		sec := int64(epoch)
		return time.Unix(sec, int64((epoch-float64(sec))*1e9)).UTC()
	}
	return time.Time{}
}

// topKeys returns up to n keys by descending count.
func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
