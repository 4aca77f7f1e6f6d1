package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/vitos/grid_ledger/internal/usecase"
)

func main() {
	path := "logs/gridbot.log"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Printf("Analyzing file: %s\n", path)
	report, err := usecase.AnalyzeLog(f)
	if err != nil {
		fmt.Printf("Error reading log: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d entries", report.Lines)
	if !report.From.IsZero() {
		fmt.Printf(" from %s to %s", report.From.Format("2006-01-02 15:04"), report.To.Format("2006-01-02 15:04"))
	}
	fmt.Println()

	fmt.Println("\nOrders:")
	for _, side := range sortedKeys(report.Submitted) {
		fmt.Printf("  %-5s submitted %4d  filled %4d\n", side, report.Submitted[side], report.Fills[side])
	}
	fmt.Printf("  rejected %d\n", report.Rejected)

	fmt.Println("\nSeasons:")
	if len(report.Seasons) == 0 {
		fmt.Println("  (none completed)")
	}
	for _, s := range report.Seasons {
		fmt.Printf("  #%-3d %s  banked $%.2f  next capital $%.2f\n",
			s.Season, s.At.Format("2006-01-02 15:04"), s.BankedPL, s.StartingEquity)
	}
	if report.Wipes > 0 {
		fmt.Printf("  ⚠️  ledger wiped %d time(s)\n", report.Wipes)
	}

	fmt.Printf("\nSkipped ticks: %d\n", report.TickErrors)
	for _, e := range report.TopTickErrors {
		fmt.Printf("  - %s\n", e)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
