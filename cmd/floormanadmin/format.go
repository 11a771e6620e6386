package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
	"github.com/ts4z/floorman/textutil"
)

func printTemplates(out io.Writer, templates []*paytable.Template) {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPLAYERS\tPAID\tTOP")
	for _, t := range templates {
		players := strconv.Itoa(t.MinPlayers) + "+"
		if t.MaxPlayers != nil {
			players = fmt.Sprintf("%d-%d", t.MinPlayers, *t.MaxPlayers)
		}
		top := ""
		if len(t.Positions) > 0 {
			top = textutil.FormatBasisPoints(t.Positions[0].BasisPoints)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Name, players, len(t.Positions), top)
	}
	tw.Flush()
}

func printPayout(out io.Writer, p *model.Payout) {
	fmt.Fprintf(out, "%d players, prize pool %s, template %s\n",
		p.PlayerCount, textutil.FormatCents(p.TotalPrizePoolCents), p.TemplateID)
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', tabwriter.AlignRight)
	for _, pos := range p.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%.2f%%\t\n",
			textutil.FormatPlace(pos.Position), textutil.FormatCents(pos.AmountCents), pos.Percentage)
	}
	tw.Flush()
}

func printStructure(out io.Writer, name string, s model.Structure) {
	fmt.Fprintf(out, "%s:\n", name)
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	for _, l := range s {
		if l.IsBreak {
			fmt.Fprintf(tw, "  %d\tBREAK\t%s\n", l.LevelNumber, textutil.FormatClock(l.Duration()))
			continue
		}
		fmt.Fprintf(tw, "  %d\t%d/%d/%d\t%s\n", l.LevelNumber, l.SmallBlind, l.BigBlind, l.Ante, textutil.FormatClock(l.Duration()))
	}
	tw.Flush()
}
