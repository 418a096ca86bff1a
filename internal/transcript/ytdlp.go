package transcript

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

const watchURL = "https://www.youtube.com/watch?v="

// YTDLP downloads audio with the yt-dlp command line tool.
type YTDLP struct {
	Binary      string // default "yt-dlp"
	MaxFileSize int64  // passed as --max-filesize when positive
}

// Download extracts the audio of videoID as mp3 into dir.
func (y YTDLP) Download(ctx context.Context, videoID, dir string) (string, error) {
	bin := y.Binary
	if bin == "" {
		bin = "yt-dlp"
	}

	args := []string{
		"--no-playlist",
		"--no-progress",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "5",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
	}
	if y.MaxFileSize > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(y.MaxFileSize, 10))
	}
	args = append(args, watchURL+videoID)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp: %w: %s", err, lastLine(stderr.Bytes()))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "audio.*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("yt-dlp produced no audio file")
	}
	return matches[0], nil
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}
