package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-bpe/corpus"
	"github.com/gomlx/go-bpe/tokenizers/bpe"
	"github.com/gomlx/go-bpe/tokenizers/hftokenizer"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPrepareTrainInspect(t *testing.T) {
	dir := t.TempDir()
	parquetPath := filepath.Join(dir, "train.parquet")
	docs := []corpus.Document{
		{Text: "the cat sat on the mat"},
		{Text: ""},
		{Text: "the dog sat on the log"},
		{Text: "then the cat ate"},
	}
	require.NoError(t, parquet.WriteFile(parquetPath, docs))

	corpusPath := filepath.Join(dir, "train.txt")
	_, err := execute(t, "prepare", parquetPath, corpusPath)
	require.NoError(t, err)
	content, err := os.ReadFile(corpusPath)
	require.NoError(t, err)
	assert.Equal(t, "the cat sat on the mat<|endoftext|>the dog sat on the log<|endoftext|>then the cat ate",
		string(content))

	outDir := filepath.Join(dir, "tokenizer")
	out, err := execute(t, "train", corpusPath, "-n", "270", "-o", outDir, "-p", "2", "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "BPE training")
	assert.Contains(t, out, "270")

	res, err := hftokenizer.Load(filepath.Join(outDir, hftokenizer.TokenizerFile))
	require.NoError(t, err)
	assert.Equal(t, 270, res.Vocab.Len())
	assert.Equal(t, []string{"<|endoftext|>"}, res.SpecialTokens)
	// (t,h), (h,e) and (a,t) all occur 6 times: the greatest pair wins.
	assert.Equal(t, []byte("th"), res.Merges[0].Merged())

	var report bpe.Report
	data, err := os.ReadFile(filepath.Join(outDir, reportFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 270, report.VocabSize)
	assert.Equal(t, 2, report.Parallelism)

	out, err = execute(t, "inspect", filepath.Join(outDir, hftokenizer.TokenizerFile), "--top", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "First 3 merges")
	assert.Contains(t, out, "Longest 3 tokens")
	assert.Contains(t, out, `"t" + "h"`)
}

func TestTrainErrors(t *testing.T) {
	_, err := execute(t, "train", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input corpus")

	_, err = execute(t, "train", filepath.Join(t.TempDir(), "missing.txt"), "-n", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocab size 10")

	_, err = execute(t, "inspect")
	assert.Error(t, err)
}

func TestSummaries(t *testing.T) {
	res, err := hftokenizer.Rebuild(nil, nil, nil)
	require.NoError(t, err)
	res.Stats.TerminatedEarly = true
	s := trainSummary(res, "out")
	assert.Contains(t, s, "256")
	assert.Contains(t, s, "ran out of mergeable pairs")

	s = inspectSummary("tokenizer.json", res, 5)
	assert.True(t, strings.HasPrefix(s, "tokenizer.json"))
	assert.NotContains(t, s, "First")
	assert.NotContains(t, s, "Longest")
}

func TestLogFile(t *testing.T) {
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "train.txt")
	require.NoError(t, os.WriteFile(corpusPath, []byte("the cat sat on the mat<|endoftext|>the dog sat"), 0644))
	logPath := filepath.Join(dir, "bpetrain.log")

	_, err := execute(t, "train", corpusPath, "-n", "260", "-o", filepath.Join(dir, "out"), "--log-file", logPath)
	require.NoError(t, err)
	assert.Nil(t, logFile, "log file should be closed after the command")
	require.NotNil(t, cfg)
	assert.Equal(t, corpusPath, cfg.Input)
	assert.Equal(t, 260, cfg.VocabSize)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Training done")

	// A failing command skips PersistentPostRun: the handle stays open until closed.
	_, err = execute(t, "train", filepath.Join(dir, "missing.txt"), "-o", filepath.Join(dir, "out"), "--log-file", logPath)
	require.Error(t, err)
	require.NotNil(t, logFile)
	closeLogFile()
	assert.Nil(t, logFile)
	closeLogFile()
}

func TestSetupLoggingErrors(t *testing.T) {
	_, err := execute(t, "train", "--log-file", filepath.Join(t.TempDir(), "missing", "dir", "bpetrain.log"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
	assert.Nil(t, logFile)
}
