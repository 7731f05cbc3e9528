package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/assetforge/assetforge/pkg/stage"
)

// execStage pipes the asset through an external command: the bytes go to
// stdin and stdout becomes the new content. The "command" option is the
// argv; "{path}" in any argument is replaced by the asset path. "env" adds
// KEY=VALUE pairs to the environment, and "dir" sets the working directory.
func execStage(ctx context.Context, in *stage.Asset, opts stage.Options) (*stage.Asset, error) {
	argv := opts.Strings("command")
	if len(argv) == 0 {
		return nil, errors.New("exec: command option is required")
	}

	args := make([]string, len(argv)-1)
	for i, a := range argv[1:] {
		args[i] = strings.ReplaceAll(a, "{path}", in.Path)
	}

	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Stdin = bytes.NewReader(in.Data)
	cmd.Dir = opts.String("dir", "")
	cmd.Env = append(os.Environ(), opts.Strings("env")...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", argv[0], err)
		}
		return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
	}

	out := in.Clone()
	out.Data = stdout.Bytes()
	if mt := opts.String("media_type", ""); mt != "" {
		out.MediaType = mt
	}
	return out, nil
}
