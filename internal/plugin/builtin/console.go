// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtin

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// ConsoleName is the console plugin's name.
const ConsoleName = "console"

// Events exchanged by the console plugin.
const (
	ConsoleInputEvent      = "consoleInput"
	RequestPluginListEvent = "requestPluginList"
	PluginListEvent        = "pluginList"
	HostShutdownEvent      = "hostShutdown"
)

const consoleHelp = `Commands:
  help                    show this help
  list                    list loaded plugins
  load <name>             load a plugin
  unload <name>           unload a plugin
  send <event> [payload]  publish an event
  get <key>               read a data store value
  set <key> <value>       write a data store value
  del <key>               delete a data store value
  quit                    stop the host`

var consoleLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Word", Pattern: `[^\s"]+`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Command is one parsed console line. Exactly one field is set.
type Command struct {
	Help   bool         `parser:"  @'help'"`
	List   bool         `parser:"| @'list'"`
	Quit   bool         `parser:"| @('quit' | 'exit')"`
	Load   string       `parser:"| 'load' @Word"`
	Unload string       `parser:"| 'unload' @Word"`
	Send   *SendCommand `parser:"| 'send' @@"`
	Get    string       `parser:"| 'get' @(Word | String)"`
	Set    *SetCommand  `parser:"| 'set' @@"`
	Del    string       `parser:"| 'del' @(Word | String)"`
}

// SendCommand publishes Event with the words of Payload joined by spaces.
type SendCommand struct {
	Event   string   `parser:"@Word"`
	Payload []string `parser:"@(Word | String)*"`
}

// SetCommand stores the joined Value words under Key.
type SetCommand struct {
	Key   string   `parser:"@(Word | String)"`
	Value []string `parser:"@(Word | String)+"`
}

var consoleParser = participle.MustBuild[Command](
	participle.Lexer(consoleLexer),
	participle.Unquote("String"),
)

// ParseCommand parses one console line.
func ParseCommand(line string) (*Command, error) {
	return consoleParser.ParseString("", line)
}

// Console executes commands read from ConsoleInputEvent payloads.
type Console struct {
	out io.Writer
}

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer) *Console { return &Console{out: out} }

// Info implements pluginapi.Plugin.
func (*Console) Info() pluginapi.Descriptor {
	return descriptor(ConsoleName, pluginapi.PriorityLater,
		pluginapi.Dependency{Name: ManagerName, Kind: pluginapi.Optional})
}

// Init subscribes to console input and plugin list replies.
func (c *Console) Init(host pluginapi.Host) error {
	host.RegisterEvent(ConsoleInputEvent, pluginapi.NewCallback(func(_ context.Context, _, line string) error {
		c.handle(host, line)
		return nil
	}))
	host.RegisterEvent(PluginListEvent, pluginapi.NewCallback(func(_ context.Context, _, names string) error {
		if names == "" {
			names = "(none)"
		}
		c.printf("Loaded plugins: %s", names)
		return nil
	}))
	c.printf("ready, type 'help' for commands")
	return nil
}

// Shutdown implements pluginapi.Plugin.
func (*Console) Shutdown() {}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, "[console] "+format+"\n", args...)
}

func (c *Console) handle(host pluginapi.Host, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cmd, err := ParseCommand(line)
	if err != nil {
		word, _, _ := strings.Cut(line, " ")
		if strings.Contains(consoleHelp, "\n  "+word+" ") {
			c.printf("Invalid %s command: %v", word, err)
		} else {
			c.printf("Unknown command: %s (try 'help')", word)
		}
		return
	}

	switch {
	case cmd.Help:
		c.printf("%s", consoleHelp)
	case cmd.List:
		host.SendEvent(RequestPluginListEvent, "")
	case cmd.Quit:
		c.printf("Shutting down")
		host.SendEvent(HostShutdownEvent, "")
	case cmd.Load != "":
		c.printf("Loading plugin: %s", cmd.Load)
		if err := host.LoadPlugin(cmd.Load); err != nil {
			c.printf("Failed to load %s: %v", cmd.Load, err)
		}
	case cmd.Unload != "":
		c.printf("Unloading plugin: %s", cmd.Unload)
		if err := host.UnloadPlugin(cmd.Unload); err != nil {
			c.printf("Failed to unload %s: %v", cmd.Unload, err)
		}
	case cmd.Send != nil:
		host.SendEvent(cmd.Send.Event, strings.Join(cmd.Send.Payload, " "))
	case cmd.Get != "":
		if v, ok := host.GetData(cmd.Get); ok {
			c.printf("%s = %s", cmd.Get, v)
		} else {
			c.printf("%s is not set", cmd.Get)
		}
	case cmd.Set != nil:
		if err := host.SetData(cmd.Set.Key, strings.Join(cmd.Set.Value, " ")); err != nil {
			c.printf("Failed to set %s: %v", cmd.Set.Key, err)
		} else {
			c.printf("OK")
		}
	case cmd.Del != "":
		if host.DeleteData(cmd.Del) {
			c.printf("Deleted %s", cmd.Del)
		} else {
			c.printf("%s is not set", cmd.Del)
		}
	}
}
