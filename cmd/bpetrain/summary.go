package main

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gomlx/go-bpe/tokenizers/api"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Width(20).
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("147"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			MarginTop(1)

	itemStyle = lipgloss.NewStyle().
			PaddingLeft(2)
)

type row struct {
	label, value string
}

func renderRows(rows []row) string {
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r.label), valueStyle.Render(r.value))
	}
	return strings.Join(lines, "\n")
}

func quoteTokens(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = strconv.Quote(tok)
	}
	return strings.Join(quoted, ", ")
}

func trainSummary(res *api.Result, outDir string) string {
	s := res.Stats
	rows := []row{
		{"Run", res.RunID},
		{"Vocabulary", strconv.Itoa(res.Vocab.Len())},
		{"Merges", strconv.Itoa(len(res.Merges))},
		{"Special tokens", quoteTokens(res.SpecialTokens)},
		{"Chunks", strconv.Itoa(s.Chunks)},
		{"Pretokens", fmt.Sprintf("%d distinct, %d total", s.Pretokens, s.PretokenTotal)},
		{"Initial pairs", strconv.Itoa(s.InitialPairs)},
		{"Stale queue pops", strconv.Itoa(s.StalePops)},
		{"Pretokenization", s.PretokenizeTime.String()},
		{"Merging", s.MergeTime.String()},
		{"Output", outDir},
	}
	if s.TerminatedEarly {
		rows = append(rows, row{"Note", "corpus ran out of mergeable pairs before the target size"})
	}
	return titleStyle.Render("BPE training") + "\n" + renderRows(rows)
}

func inspectSummary(path string, res *api.Result, top int) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(path) + "\n")
	sb.WriteString(renderRows([]row{
		{"Vocabulary", strconv.Itoa(res.Vocab.Len())},
		{"Merges", strconv.Itoa(len(res.Merges))},
		{"Special tokens", quoteTokens(res.SpecialTokens)},
	}))

	if n := min(top, len(res.Merges)); n > 0 {
		sb.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("First %d merges", n)))
		for i, m := range res.Merges[:n] {
			id := len(res.SpecialTokens) + api.NumByteTokens + i
			sb.WriteString("\n" + itemStyle.Render(fmt.Sprintf("%6d  %q + %q", id, m.Left, m.Right)))
		}
	}

	ids := make([]int, 0, res.Vocab.Len())
	for id := len(res.SpecialTokens); id < res.Vocab.Len(); id++ {
		ids = append(ids, id)
	}
	slices.SortStableFunc(ids, func(a, b int) int { return cmp.Compare(len(res.Vocab[b]), len(res.Vocab[a])) })
	if n := min(top, len(ids)); n > 0 && len(res.Vocab[ids[0]]) > 1 {
		sb.WriteString("\n" + sectionStyle.Render(fmt.Sprintf("Longest %d tokens", n)))
		for _, id := range ids[:n] {
			sb.WriteString("\n" + itemStyle.Render(fmt.Sprintf("%6d  %q (%d bytes)", id, res.Vocab[id], len(res.Vocab[id]))))
		}
	}
	return sb.String()
}
