package commander

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fcolor "github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/pipeline"
)

func newTestCommander(t *testing.T) (*Commander, *bytes.Buffer, string) {
	t.Helper()
	fcolor.NoColor = true

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Model.Path = filepath.Join(dir, "skin.model")
	cfg.Model.BackupDir = filepath.Join(dir, "backup")
	cfg.Image.Size = 2
	cfg.Training.NTrees = 10
	cfg.Training.MaxDepth = 5
	cfg.Training.MinSamplesSplit = 2
	cfg.Training.MinSamplesLeaf = 1
	cfg.Training.CVFolds = 0

	c := NewCommander(cfg, nil)
	out := &bytes.Buffer{}
	c.SetIO(strings.NewReader(""), out)
	return c, out, dir
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func skinCSV(perClass int) []byte {
	var b strings.Builder
	b.WriteString("id,pixel_features,oil,water,pore_size,label\n")
	for ci, lv := range []struct {
		label string
		base  int
	}{{"kering", 20}, {"normal", 128}, {"berminyak", 230}} {
		for i := 0; i < perClass; i++ {
			px := make([]string, 12)
			for j := range px {
				px[j] = fmt.Sprint(lv.base + (i+j)%7 - 3)
			}
			fmt.Fprintf(&b, "s%d_%d,\"[%s]\",0.5,0.5,medium,%s\n", ci, i, strings.Join(px, ","), lv.label)
		}
	}
	return []byte(b.String())
}

func greyPNG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: level, G: level, B: level, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCommandsNeedLoadedData(t *testing.T) {
	c, out, _ := newTestCommander(t)

	assert.True(t, c.ExecuteCommand("train", nil))
	assert.Contains(t, out.String(), "No data loaded")

	out.Reset()
	c.ExecuteCommand("info", nil)
	assert.Contains(t, out.String(), "No data loaded")

	out.Reset()
	c.ExecuteCommand("bogus", nil)
	assert.Contains(t, out.String(), "Unknown command: bogus")
}

func TestPredictBeforeTraining(t *testing.T) {
	c, out, dir := newTestCommander(t)
	img := writeFile(t, dir, "face.png", greyPNG(t, 128))

	c.ExecuteCommand("predict", []string{img})
	assert.Contains(t, out.String(), "No model available")
	assert.Equal(t, pipeline.Untrained, c.predictor.State())
}

func TestLoadTrainPredict(t *testing.T) {
	c, out, dir := newTestCommander(t)
	csvPath := writeFile(t, dir, "skin.csv", skinCSV(8))
	img := writeFile(t, dir, "face.png", greyPNG(t, 230))

	c.ExecuteCommand("load", []string{csvPath})
	require.Contains(t, out.String(), "Data loaded successfully")
	assert.Contains(t, out.String(), "Samples:       24")

	out.Reset()
	c.ExecuteCommand("train", []string{"--trees=12"})
	require.Contains(t, out.String(), "Model trained and saved", out.String())
	assert.Contains(t, out.String(), "accuracy")
	assert.FileExists(t, c.store.Path)
	assert.FileExists(t, filepath.Join(dir, "training_log.csv"))
	assert.Equal(t, 12, c.predictor.Bundle().Metadata.Parameters["n_trees"])

	out.Reset()
	c.ExecuteCommand("predict", []string{img})
	assert.Contains(t, out.String(), "Skin type: oily")
	assert.Contains(t, out.String(), "used training averages for oil, water, pore_size")

	out.Reset()
	c.ExecuteCommand("predict", []string{img, "0.5", "0.5", "medium"})
	assert.Contains(t, out.String(), "Skin type: oily")
	assert.NotContains(t, out.String(), "training averages")

	for _, oil := range []string{"NaN", "1e400"} {
		out.Reset()
		c.ExecuteCommand("predict", []string{img, oil, "0.5", "medium"})
		assert.Contains(t, out.String(), "must be finite numbers", oil)
		assert.NotContains(t, out.String(), "Skin type")
	}

	out.Reset()
	c.ExecuteCommand("current", nil)
	assert.Contains(t, out.String(), c.predictor.Bundle().ID)

	summary := filepath.Join(dir, "summary.txt")
	c.ExecuteCommand("export", []string{summary})
	assert.FileExists(t, summary)
}

func TestTrainOptionErrors(t *testing.T) {
	c, out, dir := newTestCommander(t)
	c.ExecuteCommand("load", []string{writeFile(t, dir, "skin.csv", skinCSV(8))})

	out.Reset()
	c.ExecuteCommand("train", []string{"--trees=many"})
	assert.Contains(t, out.String(), "option --trees=many")

	out.Reset()
	c.ExecuteCommand("train", []string{"--fast"})
	assert.Contains(t, out.String(), "unknown option --fast")
	assert.NoFileExists(t, c.store.Path)
}

func TestBackupAndReload(t *testing.T) {
	c, out, dir := newTestCommander(t)
	c.ExecuteCommand("load", []string{writeFile(t, dir, "skin.csv", skinCSV(8))})
	c.ExecuteCommand("train", nil)
	require.FileExists(t, c.store.Path)

	out.Reset()
	c.ExecuteCommand("train", []string{"--backup"})
	assert.Contains(t, out.String(), "Previous model backed up as")
	entries, err := os.ReadDir(c.cfg.Model.BackupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	out.Reset()
	c.ExecuteCommand("backup", nil)
	assert.Contains(t, out.String(), "Model backed up as")
	assert.NoFileExists(t, c.store.Path)

	out.Reset()
	c.ExecuteCommand("reload", nil)
	assert.Contains(t, out.String(), "Reload failed")
	assert.Equal(t, pipeline.Untrained, c.predictor.State())
}

func TestCrossValidateCommand(t *testing.T) {
	c, out, dir := newTestCommander(t)
	c.ExecuteCommand("load", []string{writeFile(t, dir, "skin.csv", skinCSV(8))})

	out.Reset()
	c.ExecuteCommand("cv", []string{"3"})
	assert.Contains(t, out.String(), "Cross-validation complete")
	assert.Contains(t, out.String(), "Mean:")
}

func TestBackgroundTrainingJob(t *testing.T) {
	c, out, dir := newTestCommander(t)
	c.ExecuteCommand("load", []string{writeFile(t, dir, "skin.csv", skinCSV(8))})

	out.Reset()
	c.ExecuteCommand("train-bg", nil)
	require.Contains(t, out.String(), "Job submitted")
	c.jobManager.Wait()

	list := c.jobManager.ListJobs()
	require.Len(t, list, 1)
	id := list[0].ID

	out.Reset()
	c.ExecuteCommand("jobs", []string{id})
	assert.Contains(t, out.String(), "completed")

	out.Reset()
	c.ExecuteCommand("job-logs", []string{id})
	assert.Contains(t, out.String(), "Model saved to")
	assert.Equal(t, pipeline.Ready, c.predictor.State())

	out.Reset()
	c.ExecuteCommand("job-cancel", []string{id})
	assert.Contains(t, out.String(), "✗")
}

func TestBackgroundTrainingKeepsSubmittedDataset(t *testing.T) {
	c, out, dir := newTestCommander(t)
	first := writeFile(t, dir, "first.csv", skinCSV(8))
	second := writeFile(t, dir, "second.csv", skinCSV(5))
	c.ExecuteCommand("load", []string{first})
	c.ExecuteCommand("train", nil)
	require.FileExists(t, c.store.Path)

	out.Reset()
	c.ExecuteCommand("train-bg", []string{"--backup"})
	c.ExecuteCommand("load", []string{second})
	c.jobManager.Wait()

	bundle := c.predictor.Bundle()
	require.NotNil(t, bundle)
	assert.Equal(t, first, bundle.Metadata.Dataset)
	assert.Equal(t, 24, bundle.Metadata.Samples)

	list := c.jobManager.ListJobs()
	require.Len(t, list, 1)
	assert.Equal(t, "Training on "+first, list[0].Description)
	logs := strings.Join(list[0].GetLogs(), "\n")
	assert.Contains(t, logs, "Previous model backed up as")
	assert.NotContains(t, out.String(), "Previous model backed up as")
}

func TestStartRunsScriptedSession(t *testing.T) {
	c, out, dir := newTestCommander(t)
	csvPath := writeFile(t, dir, "skin.csv", skinCSV(8))

	c.SetIO(strings.NewReader("help\nload "+csvPath+"\ninfo\nquit\nload nothing\n"), out)
	c.Start()

	text := out.String()
	assert.Contains(t, text, "Available Commands")
	assert.Contains(t, text, "Source:        "+csvPath)
	assert.Contains(t, text, "Bye")
	assert.NotContains(t, text, "Loading data from nothing")
}
