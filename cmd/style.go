package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/ringbench/bench"
	"github.com/luca-patrignani/ringbench/report"
)

func printTitle() error {
	title, err := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Ring", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("bench", pterm.FgDarkGray.ToStyle()),
	).Srender()
	if err != nil {
		return err
	}
	pterm.Print(title)
	return nil
}

// printResults prints the result line of every peer followed by a summary table.
func printResults(results []bench.Result) error {
	for _, r := range results {
		pterm.Info.Println(r.String())
	}
	data := [][]string{{"Peer", "From", "First", "Checksum", "Time (s)", "Polls", "Fallback"}}
	for _, r := range results {
		first := "-"
		if r.HasFirst() {
			first = strconv.FormatFloat(r.First, 'f', -1, 64)
		}
		fallback := pterm.LightGreen("no")
		if r.FellBack {
			fallback = pterm.LightYellow("yes")
		}
		data = append(data, []string{
			strconv.Itoa(r.Rank),
			strconv.Itoa(r.Left),
			first,
			fmt.Sprintf("%.4f", r.Checksum),
			fmt.Sprintf("%.6f", r.Elapsed.Seconds()),
			strconv.Itoa(r.Polls),
			fallback,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

func printReport(c *report.Collector) error {
	pterm.DefaultSection.Println("Performance")
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(c.Performance()).Render(); err != nil {
		return err
	}
	pterm.DefaultSection.Println("Scalability")
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(c.Scalability()).Render(); err != nil {
		return err
	}
	pterm.DefaultSection.Println("Efficiency")
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(c.Efficiency()).Render()
}
