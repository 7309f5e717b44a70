package llm

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"text/template"
)

// Formatter renders a prompt from template variables, either as a single
// string or as a message list.
type Formatter interface {
	Format(args map[string]any) (string, error)
	FormatMessages(args map[string]any) ([]Message, error)

	// Template returns the raw template text, for event payloads
	Template() string
	// Vars lists the variables the template references
	Vars() []string
	// OutputParser is the parser bound to the template, or nil
	OutputParser() OutputParser
}

var templateVarRe = regexp.MustCompile(`{{[-\s]*\.([A-Za-z_][A-Za-z0-9_]*)`)

func templateVars(texts ...string) []string {
	var vars []string
	for _, text := range texts {
		for _, m := range templateVarRe.FindAllStringSubmatch(text, -1) {
			if !slices.Contains(vars, m[1]) {
				vars = append(vars, m[1])
			}
		}
	}
	return vars
}

func render(name, text string, args map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, args); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

/////////////////////////////////////////////////////////////////////////////////////////

// PromptTemplate represents a prompt template.
// It can be rendered with specific inputs.
// It uses Go's text/template syntax for placeholders, e.g. "{{.topic}}".
type PromptTemplate struct {
	Text string // The prompt template with placeholders

	// Partial holds variables bound ahead of Format
	Partial map[string]any
	// Parser, when set, appends its format instructions to the rendered text
	Parser OutputParser
}

// NewPromptTemplate creates a new PromptTemplate with the given template string
func NewPromptTemplate(text string) *PromptTemplate {
	return &PromptTemplate{Text: text}
}

// NewPromptTemplateRendered creates and renders a new PromptTemplate with the given inputs
func NewPromptTemplateRendered(text string, inputs map[string]any) (string, error) {
	return NewPromptTemplate(text).Format(inputs)
}

// WithPartial returns a copy with extra variables bound
func (pt *PromptTemplate) WithPartial(vars map[string]any) *PromptTemplate {
	cp := *pt
	cp.Partial = maps.Clone(pt.Partial)
	if cp.Partial == nil {
		cp.Partial = make(map[string]any, len(vars))
	}
	maps.Copy(cp.Partial, vars)
	return &cp
}

// Format fills the template with the provided inputs
func (pt *PromptTemplate) Format(args map[string]any) (string, error) {
	vars := maps.Clone(pt.Partial)
	if vars == nil {
		vars = make(map[string]any, len(args))
	}
	maps.Copy(vars, args)

	out, err := render("prompt", pt.Text, vars)
	if err != nil {
		return "", err
	}
	if pt.Parser != nil {
		out = pt.Parser.Format(out)
	}
	return out, nil
}

// FormatMessages renders the template as a single user message
func (pt *PromptTemplate) FormatMessages(args map[string]any) ([]Message, error) {
	text, err := pt.Format(args)
	if err != nil {
		return nil, err
	}
	return []Message{NewTextMessage(RoleUser, text)}, nil
}

func (pt *PromptTemplate) Template() string           { return pt.Text }
func (pt *PromptTemplate) Vars() []string             { return templateVars(pt.Text) }
func (pt *PromptTemplate) OutputParser() OutputParser { return pt.Parser }

/////////////////////////////////////////////////////////////////////////////////////////

// MessageTemplate is one templated message of a ChatPromptTemplate
type MessageTemplate struct {
	Role MessageRole
	Text string
}

// ChatPromptTemplate renders a list of templated messages
type ChatPromptTemplate struct {
	Messages []MessageTemplate
	Parser   OutputParser

	// MessagesToPrompt flattens the messages for Format. Defaults to
	// MessagesToPrompt.
	MessagesToPrompt func([]Message) string
}

// NewChatPromptTemplate creates a chat template from role/text pairs
func NewChatPromptTemplate(messages ...MessageTemplate) *ChatPromptTemplate {
	return &ChatPromptTemplate{Messages: messages}
}

func (ct *ChatPromptTemplate) FormatMessages(args map[string]any) ([]Message, error) {
	out := make([]Message, 0, len(ct.Messages))
	for i, mt := range ct.Messages {
		text, err := render(fmt.Sprintf("message %d", i), mt.Text, args)
		if err != nil {
			return nil, err
		}
		out = append(out, NewTextMessage(mt.Role, text))
	}
	if ct.Parser != nil {
		out = FormatMessagesWithParser(ct.Parser, out)
	}
	return out, nil
}

// Format renders the messages and flattens them into one prompt
func (ct *ChatPromptTemplate) Format(args map[string]any) (string, error) {
	msgs, err := ct.FormatMessages(args)
	if err != nil {
		return "", err
	}
	return ct.flatten(msgs), nil
}

func (ct *ChatPromptTemplate) flatten(msgs []Message) string {
	if ct.MessagesToPrompt != nil {
		return ct.MessagesToPrompt(msgs)
	}
	return MessagesToPrompt(msgs)
}

func (ct *ChatPromptTemplate) Template() string {
	var buf bytes.Buffer
	for i, mt := range ct.Messages {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(string(mt.Role) + ": " + mt.Text)
	}
	return buf.String()
}

func (ct *ChatPromptTemplate) Vars() []string {
	texts := make([]string, 0, len(ct.Messages))
	for _, mt := range ct.Messages {
		texts = append(texts, mt.Text)
	}
	return templateVars(texts...)
}

func (ct *ChatPromptTemplate) OutputParser() OutputParser { return ct.Parser }

/////////////////////////////////////////////////////////////////////////////////////////

// literalMessages is a Formatter over fixed messages, no templating
type literalMessages []Message

// MessagesPrompt wraps ready-made messages as a Formatter. Message text is
// used as is, so braces need no escaping.
func MessagesPrompt(messages []Message) Formatter {
	return literalMessages(CloneMessages(messages))
}

func (l literalMessages) Format(map[string]any) (string, error) {
	return MessagesToPrompt(l), nil
}

func (l literalMessages) FormatMessages(map[string]any) ([]Message, error) {
	return CloneMessages(l), nil
}

func (l literalMessages) Template() string           { return MessagesToPrompt(l) }
func (l literalMessages) Vars() []string             { return nil }
func (l literalMessages) OutputParser() OutputParser { return nil }
