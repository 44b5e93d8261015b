package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

const (
	CmdVisualize   = "visualize"
	CmdGallery     = "gallery"
	CmdVideoStatus = "videostatus"

	defaultGalleryLimit = 10
	maxGalleryLimit     = 50
	ratiosPrefix        = "ratios="
)

var ErrNotCommand = errors.New("not a command")

// Command is a parsed chat command.
type Command struct {
	Name      string
	ContentID string
	Prompt    string
	Ratios    []mediaproviders.AspectRatio
	Limit     int
}

// ParseCommand understands
//
//	/visualize <contentId> [ratios=horizontal,vertical] <prompt>
//	/gallery [n]
//	/videostatus <contentId>
//
// A "@botname" suffix on the command is ignored.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, ErrNotCommand
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	args := fields[1:]

	switch name {
	case CmdVisualize:
		if len(args) < 2 {
			return Command{}, fmt.Errorf("usage: /visualize <contentId> [ratios=horizontal,vertical] <prompt>")
		}
		cmd := Command{Name: name, ContentID: args[0]}
		rest := args[1:]
		if strings.HasPrefix(strings.ToLower(rest[0]), ratiosPrefix) {
			ratios, err := mediaproviders.ParseAspectRatios(rest[0][len(ratiosPrefix):])
			if err != nil {
				return Command{}, err
			}
			cmd.Ratios = ratios
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return Command{}, fmt.Errorf("/visualize needs a prompt")
		}
		cmd.Prompt = strings.Join(rest, " ")
		return cmd, nil

	case CmdGallery:
		cmd := Command{Name: name, Limit: defaultGalleryLimit}
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return Command{}, fmt.Errorf("usage: /gallery [n]")
			}
			cmd.Limit = min(n, maxGalleryLimit)
		}
		return cmd, nil

	case CmdVideoStatus:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: /videostatus <contentId>")
		}
		return Command{Name: name, ContentID: args[0]}, nil
	}
	return Command{}, fmt.Errorf("unknown command /%s", name)
}
