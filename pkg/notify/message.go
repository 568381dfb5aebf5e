package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/cuemby/pipewatch/pkg/types"
)

// Kind classifies a notification
type Kind string

const (
	KindSuccess   Kind = "success"
	KindFailure   Kind = "failure"
	KindRecovered Kind = "recovered"
	KindAdvice    Kind = "advice"
)

// Field is a short labelled value carried alongside the body, used by chat channels
type Field struct {
	Title string
	Value string
	Short bool
}

// Message is a rendered notification ready for any channel
type Message struct {
	Kind     Kind
	Subject  string
	Body     string
	HTML     bool
	Pipeline string
	Build    int64
	Fields   []Field
	// Recipients overrides the channel's configured recipients when set
	Recipients []string
}

const timeLayout = "2006-01-02 15:04:05 MST"

var funcs = template.FuncMap{
	"seconds": func(v float64) string { return fmt.Sprintf("%.1fs", v) },
	"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	"when":    func(t time.Time) string { return t.UTC().Format(timeLayout) },
}

var (
	successTmpl = template.Must(template.New("success").Funcs(funcs).Parse(
		`Jenkins Job: {{.Build.PipelineName}}
Build Number: {{.Build.BuildNumber}}
Status: SUCCESS
Time: {{when .Build.Timestamp}}
Triggered By: {{.Build.User}}
Duration: {{seconds .Build.Duration}}
Message: Build completed successfully.
`))

	failureTmpl = template.Must(template.New("failure").Funcs(funcs).Parse(
		`Jenkins Job: {{.Build.PipelineName}}
Build Number: {{.Build.BuildNumber}}
Status: FAILURE
Time: {{when .Build.Timestamp}}
Triggered By: {{.Build.User}}
Duration: {{seconds .Build.Duration}}
URL: {{.Build.URL}}
Reason: {{.Build.Status}}
Recommendations:
{{range .Advice}}- {{.}}
{{end}}Build Stats ({{.Stats.WindowDays}} days):
Total: {{.Stats.Total}}
Success: {{.Stats.Success}}
Failure: {{.Stats.Failure}}
Success Rate: {{percent .Stats.SuccessRate}}
Avg Duration: {{seconds .Stats.AvgDuration}}
`))

	recoveredTmpl = template.Must(template.New("recovered").Funcs(funcs).Parse(
		`Jenkins Job: {{.Build.PipelineName}}
Build Number: {{.Build.BuildNumber}}
Status: SUCCESS (previously FAILURE)
Time: {{when .Build.Timestamp}}
Triggered By: {{.Build.User}}
Duration: {{seconds .Build.Duration}}
URL: {{.Build.URL}}
`))

	adviceTmpl = htmltemplate.Must(htmltemplate.New("advice").Funcs(htmltemplate.FuncMap(funcs)).Parse(
		`<h3>CI/CD Health Advice{{if .Pipeline}} for {{.Pipeline}}{{end}}</h3>
<p><strong>Success rate:</strong> {{percent .Stats.SuccessRate}}</p>
<p><strong>Average build time:</strong> {{seconds .Stats.AvgDuration}}</p>
<h4>Recommended Steps</h4>
<ul>{{range .Advice}}<li>{{.}}</li>{{end}}</ul>
<h4>Recent Failures</h4>
<ul>{{range .Failures}}<li>{{.PipelineName}} #{{.BuildNumber}} - {{.Status}}</li>{{end}}</ul>
`))
)

type buildView struct {
	Build  *types.Build
	Stats  types.Snapshot
	Advice []string
}

type adviceView struct {
	Pipeline string
	Stats    types.Snapshot
	Advice   []string
	Failures []*types.Build
}

func executeText(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s message: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func buildFields(b *types.Build, detail string) []Field {
	return []Field{
		{Title: "Pipeline", Value: b.PipelineName, Short: true},
		{Title: "Build", Value: fmt.Sprintf("#%d", b.BuildNumber), Short: true},
		{Title: "Error", Value: detail, Short: false},
		{Title: "Time", Value: b.Timestamp.UTC().Format(timeLayout), Short: true},
	}
}

// NewSuccessMessage renders the notification for a newly observed successful build
func NewSuccessMessage(b *types.Build) (*Message, error) {
	body, err := executeText(successTmpl, buildView{Build: withUser(b)})
	if err != nil {
		return nil, err
	}
	return &Message{
		Kind:     KindSuccess,
		Subject:  fmt.Sprintf("Build Success: %s #%d", b.PipelineName, b.BuildNumber),
		Body:     body,
		Pipeline: b.PipelineName,
		Build:    b.BuildNumber,
		Fields: []Field{
			{Title: "Pipeline", Value: b.PipelineName, Short: true},
			{Title: "Build", Value: fmt.Sprintf("#%d", b.BuildNumber), Short: true},
			{Title: "Duration", Value: fmt.Sprintf("%.1fs", b.Duration), Short: true},
		},
	}, nil
}

// NewFailureMessage renders the notification for a newly observed failed build
func NewFailureMessage(b *types.Build, stats *types.Snapshot, advice []string) (*Message, error) {
	view := buildView{Build: withUser(b), Advice: advice}
	if stats != nil {
		view.Stats = *stats
	}
	body, err := executeText(failureTmpl, view)
	if err != nil {
		return nil, err
	}

	detail := fmt.Sprintf("Build finished with %s", b.Status)
	if len(advice) > 0 {
		detail += ". " + advice[0]
	}
	return &Message{
		Kind:     KindFailure,
		Subject:  fmt.Sprintf("Build Failure: %s #%d", b.PipelineName, b.BuildNumber),
		Body:     body,
		Pipeline: b.PipelineName,
		Build:    b.BuildNumber,
		Fields:   buildFields(b, detail),
	}, nil
}

// NewRecoveredMessage renders the notification for a failed build re-observed as successful
func NewRecoveredMessage(b *types.Build) (*Message, error) {
	body, err := executeText(recoveredTmpl, buildView{Build: withUser(b)})
	if err != nil {
		return nil, err
	}
	return &Message{
		Kind:     KindRecovered,
		Subject:  fmt.Sprintf("Build Recovered: %s #%d", b.PipelineName, b.BuildNumber),
		Body:     body,
		Pipeline: b.PipelineName,
		Build:    b.BuildNumber,
		Fields: []Field{
			{Title: "Pipeline", Value: b.PipelineName, Short: true},
			{Title: "Build", Value: fmt.Sprintf("#%d", b.BuildNumber), Short: true},
		},
	}, nil
}

// NewAdviceMessage renders the HTML advice digest sent on demand
func NewAdviceMessage(pipeline string, stats *types.Snapshot, advice []string, failures []*types.Build, recipients []string) (*Message, error) {
	view := adviceView{Pipeline: pipeline, Advice: advice, Failures: failures}
	if stats != nil {
		view.Stats = *stats
	}
	var buf bytes.Buffer
	if err := adviceTmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render advice message: %w", err)
	}

	subject := "CI/CD Advice"
	if pipeline != "" {
		subject += " for " + pipeline
	}
	return &Message{
		Kind:       KindAdvice,
		Subject:    subject,
		Body:       buf.String(),
		HTML:       true,
		Pipeline:   pipeline,
		Recipients: recipients,
	}, nil
}

func withUser(b *types.Build) *types.Build {
	if strings.TrimSpace(b.User) != "" {
		return b
	}
	c := *b
	c.User = types.DefaultTriggeredBy
	return &c
}
