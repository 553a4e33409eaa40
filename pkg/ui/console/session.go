package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"saladict/pkg/browser"
	"saladict/pkg/browser/memhost"
	"saladict/pkg/config"
	"saladict/pkg/logger"
	"saladict/pkg/message"
	"saladict/pkg/storage"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var errUsage = errors.New("usage")

// endpoint is one context driven from the console.
type endpoint struct {
	ctx      *memhost.Context
	router   *message.Router
	observer *storage.Observer
	echo     *browser.MessageListener
}

// Session executes console commands against a simulated browser host.
type Session struct {
	host *memhost.Host
	mode config.BuildMode
	log  *slog.Logger

	endpoints map[string]*endpoint
	order     []string
	current   string
}

func NewSession(host *memhost.Host, mode config.BuildMode, log *slog.Logger) *Session {
	if log == nil {
		log = logger.Discard()
	}
	s := &Session{
		host:      host,
		mode:      mode,
		log:       log.With("component", "ui.console"),
		endpoints: make(map[string]*endpoint),
	}

	bg := s.attach(host.Background())
	bg.router.Self().InitServer()
	bg.router.ServeOpenURL()
	return s
}

// Current names the context commands run in.
func (s *Session) Current() string {
	return s.current
}

// Contexts lists the names of the driven contexts in opening order.
func (s *Session) Contexts() []string {
	return slices.Clone(s.order)
}

func (s *Session) attach(c *memhost.Context) *endpoint {
	ep := &endpoint{
		ctx:      c,
		router:   message.New(c, c.Tabs(), message.WithLogger(s.log), message.WithBuildMode(s.mode)),
		observer: storage.New(c.Storage(), storage.WithLogger(s.log)),
	}
	name := c.Name()
	ep.echo = browser.NewMessageListener(func(_ context.Context, msg browser.Message, _ browser.Sender) (any, error) {
		return fmt.Sprintf("%s got %s", name, msg.Type()), nil
	})
	s.endpoints[name] = ep
	s.order = append(s.order, name)
	s.current = name
	return ep
}

func (s *Session) endpoint() *endpoint {
	return s.endpoints[s.current]
}

// Exec runs one command line and returns its printable result.
func (s *Session) Exec(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch name {
	case "help", "?":
		return helpText, nil
	case "ls", "contexts":
		return s.list(), nil
	case "open":
		return s.open(args)
	case "frame":
		return s.frame(args)
	case "popup":
		if _, ok := s.endpoints["popup"]; ok {
			return "", errors.New("popup is already open")
		}
		ep := s.attach(s.host.OpenPopup())
		return "opened " + ep.ctx.Name(), nil
	case "close":
		return s.close(args)
	case "use":
		return s.use(args)
	case "listen":
		return s.listen(args, true)
	case "unlisten":
		return s.listen(args, false)
	case "send":
		return s.send(ctx, args, rest)
	case "tab":
		return s.sendTab(ctx, args, rest)
	case "self":
		return s.sendSelf(ctx, args, rest)
	case "page":
		info, err := s.endpoint().router.Self().InitClient(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pageId=%q title=%q url=%q", info.PageID, info.PageTitle, info.PageURL), nil
	case "openurl":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: openurl <url>", errUsage)
		}
		if err := s.endpoint().router.RequestOpenURL(ctx, args[0], false); err != nil {
			return "", err
		}
		return fmt.Sprintf("active tab %d", s.host.ActiveTab()), nil
	case "get":
		return s.get(ctx, args)
	case "set":
		return s.set(ctx, args)
	case "rm":
		return s.remove(ctx, args)
	case "clear":
		return s.clear(ctx, args)
	default:
		return "", fmt.Errorf("unknown command %q (try help)", name)
	}
}

func (s *Session) list() string {
	lines := make([]string, 0, len(s.order))
	for _, name := range s.order {
		ep := s.endpoints[name]
		marker := " "
		if name == s.current {
			marker = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %-12s %-10s %s", marker, name, ep.ctx.Kind(), ep.ctx.URL()))
	}
	return strings.Join(lines, "\n")
}

func (s *Session) open(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: open <url> [title]", errUsage)
	}
	c := s.host.OpenTab(memhost.TabSpec{URL: args[0], Title: strings.Join(args[1:], " ")})
	s.attach(c)
	return fmt.Sprintf("opened %s", c.Name()), nil
}

func (s *Session) frame(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("%w: frame <tabID> <url>", errUsage)
	}
	tabID, err := strconv.Atoi(args[0])
	if err != nil {
		return "", fmt.Errorf("parse tab id: %w", err)
	}
	c, err := s.host.OpenFrame(tabID, args[1])
	if err != nil {
		return "", err
	}
	s.attach(c)
	return fmt.Sprintf("opened %s", c.Name()), nil
}

func (s *Session) close(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: close <tabID>", errUsage)
	}
	tabID, err := strconv.Atoi(args[0])
	if err != nil || tabID <= 0 {
		return "", fmt.Errorf("invalid tab id %q", args[0])
	}
	s.host.CloseTab(tabID)
	s.order = slices.DeleteFunc(s.order, func(name string) bool {
		if s.endpoints[name].ctx.TabID() != tabID {
			return false
		}
		delete(s.endpoints, name)
		return true
	})
	if _, ok := s.endpoints[s.current]; !ok {
		s.current = s.order[0]
	}
	return fmt.Sprintf("closed tab %d", tabID), nil
}

func (s *Session) use(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: use <context>", errUsage)
	}
	if _, ok := s.endpoints[args[0]]; !ok {
		return "", fmt.Errorf("no context named %q", args[0])
	}
	s.current = args[0]
	return "using " + s.current, nil
}

// listen toggles the echo listener of the current context. "listen self T"
// registers it in the self space.
func (s *Session) listen(args []string, on bool) (string, error) {
	ep := s.endpoint()
	self := len(args) > 0 && args[0] == "self"
	if self {
		args = args[1:]
	}
	if len(args) != 1 {
		return "", fmt.Errorf("%w: listen [self] <type>", errUsage)
	}
	t := browser.MsgType(args[0])

	switch {
	case self && on:
		ep.router.Self().AddTypeListener(t, ep.echo)
	case self:
		ep.router.Self().RemoveTypeListener(t, ep.echo)
	case on:
		ep.router.AddTypeListener(t, ep.echo)
	default:
		ep.router.RemoveTypeListener(t, ep.echo)
	}

	verb := "listening"
	if !on {
		verb = "stopped"
	}
	space := "cross"
	if self {
		space = "self"
	}
	return fmt.Sprintf("%s %s on %s (%s)", s.current, verb, t, space), nil
}

func (s *Session) send(ctx context.Context, args []string, rest string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: send <type> [json]", errUsage)
	}
	payload, err := buildPayload(args[0], strings.TrimSpace(strings.TrimPrefix(rest, args[0])))
	if err != nil {
		return "", err
	}
	resp, err := s.endpoint().router.Send(ctx, payload)
	return formatResponse(resp), err
}

func (s *Session) sendTab(ctx context.Context, args []string, rest string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("%w: tab <tabID> <type> [json]", errUsage)
	}
	tabID, err := strconv.Atoi(args[0])
	if err != nil {
		return "", fmt.Errorf("parse tab id: %w", err)
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	payload, err := buildPayload(args[1], strings.TrimSpace(strings.TrimPrefix(rest, args[1])))
	if err != nil {
		return "", err
	}
	resp, err := s.endpoint().router.SendTab(ctx, tabID, payload)
	return formatResponse(resp), err
}

func (s *Session) sendSelf(ctx context.Context, args []string, rest string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: self <type> [json]", errUsage)
	}
	payload, err := buildPayload(args[0], strings.TrimSpace(strings.TrimPrefix(rest, args[0])))
	if err != nil {
		return "", err
	}
	resp, err := s.endpoint().router.Self().Send(ctx, payload)
	return formatResponse(resp), err
}

func (s *Session) area(name string) (*storage.Area, error) {
	switch browser.AreaName(name) {
	case browser.AreaSync:
		return s.endpoint().observer.Sync(), nil
	case browser.AreaLocal:
		return s.endpoint().observer.Local(), nil
	default:
		return nil, fmt.Errorf("unknown storage area %q", name)
	}
}

func (s *Session) get(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: get <area> [key...]", errUsage)
	}
	area, err := s.area(args[0])
	if err != nil {
		return "", err
	}
	items, err := area.Get(ctx, args[1:]...)
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s = %s", key, items[key]))
	}
	if len(lines) == 0 {
		return "(empty)", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Session) set(ctx context.Context, args []string) (string, error) {
	if len(args) < 3 {
		return "", fmt.Errorf("%w: set <area> <key> <json>", errUsage)
	}
	area, err := s.area(args[0])
	if err != nil {
		return "", err
	}
	if err := area.Set(ctx, map[string]any{args[1]: parseValue(strings.Join(args[2:], " "))}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s set", args[0], args[1]), nil
}

func (s *Session) remove(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("%w: rm <area> <key...>", errUsage)
	}
	area, err := s.area(args[0])
	if err != nil {
		return "", err
	}
	if err := area.Remove(ctx, args[1:]...); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed %d key(s) from %s", len(args)-1, args[0]), nil
}

func (s *Session) clear(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: clear <sync|local|all>", errUsage)
	}
	if args[0] == string(storage.ScopeAll) {
		if err := s.endpoint().observer.All().Clear(ctx); err != nil {
			return "", err
		}
		return "cleared sync and local", nil
	}
	area, err := s.area(args[0])
	if err != nil {
		return "", err
	}
	if err := area.Clear(ctx); err != nil {
		return "", err
	}
	return "cleared " + args[0], nil
}

// buildPayload stamps t as the type of a JSON object body.
func buildPayload(t string, body string) (json.RawMessage, error) {
	if body == "" {
		body = "{}"
	}
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		return nil, fmt.Errorf("payload must be a JSON object: %s", body)
	}
	out, err := sjson.SetBytes([]byte(body), "type", t)
	if err != nil {
		return nil, fmt.Errorf("set message type: %w", err)
	}
	return out, nil
}

// parseValue keeps valid JSON as is and stores bare words as strings.
func parseValue(input string) any {
	if gjson.Valid(input) {
		return json.RawMessage(input)
	}
	return input
}

func formatResponse(resp browser.Response) string {
	if resp.IsZero() {
		return "(no response)"
	}
	return string(resp.Bytes())
}

const helpText = `ls                          list contexts (* marks the current one)
open <url> [title]          open a tab and switch to it
frame <tabID> <url>         inject a frame into a tab
popup                       open the popup
close <tabID>               close a tab
use <context>               run commands in another context
listen [self] <type>        answer <type> messages in the current context
unlisten [self] <type>      stop answering
send <type> [json]          send to extension pages
tab <tabID> <type> [json]   send to every frame of a tab
self <type> [json]          send to the current page through the background
page                        resolve the current page identity
openurl <url>               open or focus a tab through the background
get <area> [key...]         read storage
set <area> <key> <json>     write storage
rm <area> <key...>          remove keys
clear <sync|local|all>      clear storage
quit                        leave the console`
