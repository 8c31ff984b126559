package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

// execResult is the JSON document the external tool prints on stdout.
type execResult struct {
	Overlay    string `json:"overlay"`
	WorldFile  string `json:"world_file,omitempty"`
	Projection string `json:"projection,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// ExecConverter implements RasterConverter by invoking an external
// conversion tool. The tool receives the input path and output
// directory as its last two arguments and reports produced artifacts as
// JSON on stdout; stderr is passed through to the service log.
type ExecConverter struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecConverter creates the subprocess-backed converter.
func NewExecConverter(command string, args []string, timeout time.Duration, logger *slog.Logger) *ExecConverter {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ExecConverter{
		command: command,
		args:    args,
		timeout: timeout,
		logger:  logger,
	}
}

// Convert implements output.RasterConverter. Cancelling ctx kills the
// subprocess.
func (c *ExecConverter) Convert(ctx context.Context, in output.ConvertInput) (output.ConvertResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := make([]string, 0, len(c.args)+2)
	args = append(args, c.args...)
	args = append(args, in.InputPath, in.OutputDir)

	cmd := exec.CommandContext(runCtx, c.command, args...) //#nosec G204 -- command is operator configuration, not request input
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if stderr.Len() > 0 {
		c.logger.Debug("converter stderr", "layer", in.LayerID, "output", stderr.String())
	}
	if err != nil {
		if runCtx.Err() != nil {
			return output.ConvertResult{}, runCtx.Err()
		}
		return output.ConvertResult{}, fmt.Errorf("converter %s: %w", c.command, err)
	}

	var result execResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return output.ConvertResult{}, fmt.Errorf("parsing converter output: %w", err)
	}
	if result.Overlay == "" {
		return output.ConvertResult{}, fmt.Errorf("converter reported no overlay: %w", domain.ErrInvalidInput)
	}

	c.logger.Info("external conversion finished",
		"layer", in.LayerID,
		"overlay", result.Overlay,
		"duration", time.Since(start),
	)

	return output.ConvertResult{
		Artifacts: domain.ArtifactSet{
			Overlay:    result.Overlay,
			WorldFile:  result.WorldFile,
			Projection: result.Projection,
		},
		Dimensions: domain.Dimensions{Width: result.Width, Height: result.Height},
	}, nil
}
