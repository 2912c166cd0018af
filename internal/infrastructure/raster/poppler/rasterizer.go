package poppler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultDPI renders pages at twice the 72 dpi PDF user space.
const DefaultDPI = 144

// Rasterizer renders single PDF pages to PNG with pdftoppm.
type Rasterizer struct {
	binary string
	dpi    int
}

func New(binary string) *Rasterizer {
	if strings.TrimSpace(binary) == "" {
		binary = "pdftoppm"
	}
	return &Rasterizer{binary: binary, dpi: DefaultDPI}
}

// RenderPage returns the PNG of one 1-based page.
func (r *Rasterizer) RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("render page: invalid page %d", page)
	}

	dir, err := os.MkdirTemp("", "docvault-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create raster dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write raster source: %w", err)
	}

	outRoot := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.binary, r.args(input, outRoot, page)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}

	png, err := os.ReadFile(outRoot + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", page, err)
	}
	return png, nil
}

func (r *Rasterizer) args(input, outRoot string, page int) []string {
	p := strconv.Itoa(page)
	return []string{
		"-r", strconv.Itoa(r.dpi),
		"-f", p,
		"-l", p,
		"-png",
		"-singlefile",
		input,
		outRoot,
	}
}
