package reminder

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// mailContent is a rendered email.
type mailContent struct {
	Subject string
	HTML    string
	Text    string
}

type mapBlock struct {
	Label     string
	GoogleURL string
	AppleURL  string
}

type providerMailData struct {
	BrandColor   string
	LogoURL      string
	ProviderName string
	SessionName  string
	TimeRange    string
	Relative     string
	Attendees    string
	Map          *mapBlock
	CalendarURL  string
}

type clientMailData struct {
	BrandColor        string
	LogoURL           string
	ClientFirstName   string
	ProviderName      string
	SessionName       string
	TimeRange         string
	Relative          string
	Map               *mapBlock
	ICSURL            string
	GoogleCalendarURL string
	BookingURL        string
	ContactEmail      string
	ContactPhone      string
}

type creditMailData struct {
	ProviderName string
	Balance      int
	OutOfCredits bool
	TopUpURL     string
}

const layoutHTML = `{{define "header"}}<div style="font-family:sans-serif;max-width:560px;margin:0 auto">
{{if .LogoURL}}<img src="{{.LogoURL}}" alt="{{.ProviderName}}" style="max-height:64px"/>{{end}}
<div style="border-top:4px solid {{if .BrandColor}}{{.BrandColor}}{{else}}#3b82f6{{end}};padding-top:16px">{{end}}
{{define "footer"}}</div></div>{{end}}
{{define "map"}}{{with .Map}}<p>{{.Label}}<br/><a href="{{.GoogleURL}}">Google Maps</a> · <a href="{{.AppleURL}}">Apple Maps</a></p>{{end}}{{end}}`

var providerHTML = htmltemplate.Must(htmltemplate.New("provider").Parse(layoutHTML + `{{template "header" .}}
<h2>{{.SessionName}}</h2>
<p>{{.Relative}}<br/>{{.TimeRange}}</p>
{{if .Attendees}}<p>With {{.Attendees}}</p>{{end}}
{{template "map" .}}
<p><a href="{{.CalendarURL}}">View in calendar</a></p>
{{template "footer" .}}`))

var providerText = texttemplate.Must(texttemplate.New("provider").Parse(`{{.SessionName}}
{{.Relative}}
{{.TimeRange}}
{{if .Attendees}}With {{.Attendees}}
{{end}}{{with .Map}}{{.Label}}
Google Maps: {{.GoogleURL}}
Apple Maps: {{.AppleURL}}
{{end}}
View in calendar: {{.CalendarURL}}
`))

var clientHTML = htmltemplate.Must(htmltemplate.New("client").Parse(layoutHTML + `{{template "header" .}}
<p>Hi {{if .ClientFirstName}}{{.ClientFirstName}}{{else}}there{{end}},</p>
<p>This is a reminder of your <strong>{{.SessionName}}</strong> with {{.ProviderName}} {{.Relative}}.</p>
<p>{{.TimeRange}}</p>
{{template "map" .}}
<p><a href="{{.ICSURL}}">Add to calendar</a> · <a href="{{.GoogleCalendarURL}}">Add to Google Calendar</a></p>
{{if .BookingURL}}<p><a href="{{.BookingURL}}">View booking</a></p>{{end}}
{{if or .ContactEmail .ContactPhone}}<p>Need to get in touch?{{if .ContactEmail}}<br/><a href="mailto:{{.ContactEmail}}">{{.ContactEmail}}</a>{{end}}{{if .ContactPhone}}<br/><a href="tel:{{.ContactPhone}}">{{.ContactPhone}}</a>{{end}}</p>{{end}}
{{template "footer" .}}`))

var clientText = texttemplate.Must(texttemplate.New("client").Parse(`Hi {{if .ClientFirstName}}{{.ClientFirstName}}{{else}}there{{end}},

This is a reminder of your {{.SessionName}} with {{.ProviderName}} {{.Relative}}.
{{.TimeRange}}
{{with .Map}}
{{.Label}}
Google Maps: {{.GoogleURL}}
Apple Maps: {{.AppleURL}}
{{end}}
Add to calendar: {{.ICSURL}}
Add to Google Calendar: {{.GoogleCalendarURL}}
{{if .BookingURL}}View booking: {{.BookingURL}}
{{end}}{{if .ContactEmail}}Email: {{.ContactEmail}}
{{end}}{{if .ContactPhone}}Phone: {{.ContactPhone}}
{{end}}`))

var creditHTML = htmltemplate.Must(htmltemplate.New("credit").Parse(`<div style="font-family:sans-serif;max-width:560px;margin:0 auto">
<p>Hi {{.ProviderName}},</p>
{{if .OutOfCredits}}<p>You have run out of SMS credits. Clients will not receive text reminders until you top up.</p>
{{else}}<p>You are running low on SMS credits. You have {{.Balance}} left.</p>{{end}}
<p><a href="{{.TopUpURL}}">Top up SMS credits</a></p>
</div>`))

var creditText = texttemplate.Must(texttemplate.New("credit").Parse(`Hi {{.ProviderName}},

{{if .OutOfCredits}}You have run out of SMS credits. Clients will not receive text reminders until you top up.{{else}}You are running low on SMS credits. You have {{.Balance}} left.{{end}}

Top up SMS credits: {{.TopUpURL}}
`))

func render(html *htmltemplate.Template, text *texttemplate.Template, subject string, data any) (mailContent, error) {
	var h, t bytes.Buffer
	if err := html.Execute(&h, data); err != nil {
		return mailContent{}, fmt.Errorf("render html %s: %w", html.Name(), err)
	}
	if err := text.Execute(&t, data); err != nil {
		return mailContent{}, fmt.Errorf("render text %s: %w", text.Name(), err)
	}
	return mailContent{Subject: subject, HTML: h.String(), Text: strings.TrimSpace(t.String()) + "\n"}, nil
}

func providerMail(data providerMailData) (mailContent, error) {
	subject := fmt.Sprintf("Upcoming: %s %s", data.SessionName, data.Relative)
	return render(providerHTML, providerText, subject, data)
}

func clientMail(data clientMailData) (mailContent, error) {
	subject := fmt.Sprintf("Reminder: %s with %s %s", data.SessionName, data.ProviderName, data.Relative)
	return render(clientHTML, clientText, subject, data)
}

func creditMail(data creditMailData) (mailContent, error) {
	subject := "You're running low on SMS credits"
	if data.OutOfCredits {
		subject = "You're out of SMS credits"
	}
	return render(creditHTML, creditText, subject, data)
}

func clientSMS(providerName, sessionName, relative, link string) string {
	msg := fmt.Sprintf("Reminder: %s with %s %s.", sessionName, providerName, relative)
	if link != "" {
		msg += " Details: " + link
	}
	return msg
}

var smsTextReplacer = strings.NewReplacer("\r", " ", "\n", " ")

func oneLine(s string) string {
	return strings.TrimSpace(smsTextReplacer.Replace(s))
}
