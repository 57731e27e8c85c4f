package mail

// Message is one outbound email with both bodies; clients pick the part they render.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// TemplateData feeds subject lines and bodies of the nurture templates.
type TemplateData struct {
	Name         string
	FirstName    string
	CaseType     string
	CaseLabel    string
	AssignedTeam string
	TeamLabel    string
	LeadScore    int
	FirmName     string
	FirmPhone    string
}

type Rendered struct {
	Key  string
	HTML string
	Text string
}

type EmailSender struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}
