// Package audio transcodes a finished call recording from the raw format
// Asterisk's MixMonitor writes into the compressed format the CRM
// attachment expects (spec.md §4.8). It shells out to an external ffmpeg
// binary, the idiomatic choice in the absence of any pure-Go audio codec
// in the example pack (see DESIGN.md).
package audio

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/axelmiami/callbridge/internal/config"
)

// Processor converts raw recordings into the configured target format
// under a year/month/day tree.
type Processor struct {
	recordingRoot string
	encodedExt    string
	deleteRaw     bool
}

// New builds a Processor from the [Records] configuration section.
func New(cfg config.Records) *Processor {
	return &Processor{
		recordingRoot: cfg.Mp3Dir,
		encodedExt:    cfg.EncodedExt,
		deleteRaw:     cfg.DeleteRaw,
	}
}

// Encode decodes and re-encodes the raw recording at rawPath, laying the
// result out as <recordingRoot>/<year>/<month>/<day>/<basename>.<ext>
// (spec.md §4.8). A missing input file or a failed ffmpeg run yields a
// null result (K4): finalization proceeds without an attachment.
func (p *Processor) Encode(rawPath string) (string, error) {
	if rawPath == "" {
		return "", nil
	}
	if _, err := os.Stat(rawPath); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("audio: stat %s: %w", rawPath, err)
	}

	outPath, err := p.outputPath(rawPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("audio: creating %s: %w", filepath.Dir(outPath), err)
	}

	cmd := exec.Command("ffmpeg", "-y", "-i", rawPath, outPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("audio: ffmpeg %s: %w: %s", rawPath, err, strings.TrimSpace(string(output)))
	}

	if p.deleteRaw {
		if err := os.Remove(rawPath); err != nil {
			log.Printf("[Audio] removing raw recording %s failed: %v", rawPath, err)
		}
	}

	return outPath, nil
}

// outputPath derives the year/month/day destination from the trailing
// three path segments of rawPath, matching the directory convention
// Asterisk already lays the raw file under.
func (p *Processor) outputPath(rawPath string) (string, error) {
	dir, file := filepath.Split(filepath.Clean(rawPath))
	dir = strings.TrimRight(dir, string(filepath.Separator))

	day := filepath.Base(dir)
	month := filepath.Base(filepath.Dir(dir))
	year := filepath.Base(filepath.Dir(filepath.Dir(dir)))
	if day == "." || month == "." || year == "." {
		return "", fmt.Errorf("audio: %s does not have a year/month/day parent layout", rawPath)
	}

	base := strings.TrimSuffix(file, filepath.Ext(file))
	ext := p.encodedExt
	if ext == "" {
		ext = "mp3"
	}
	return filepath.Join(p.recordingRoot, year, month, day, base+"."+ext), nil
}
