package alert

import "strings"

// techniques maps a lowercased alert category to its MITRE ATT&CK tag.
// Adding a row here is the only change needed to cover a new category.
var techniques = map[string]Mitre{
	"authentication_failed": {Tactic: "Credential Access", TechniqueID: "T1110", TechniqueName: "Brute Force"},
	"invalid_login":         {Tactic: "Credential Access", TechniqueID: "T1110", TechniqueName: "Brute Force"},
	"sshd":                  {Tactic: "Initial Access", TechniqueID: "T1078", TechniqueName: "Valid Accounts"},
	"sudo":                  {Tactic: "Privilege Escalation", TechniqueID: "T1078", TechniqueName: "Valid Accounts"},
	"shell":                 {Tactic: "Execution", TechniqueID: "T1059", TechniqueName: "Command and Scripting Interpreter"},
	"script":                {Tactic: "Execution", TechniqueID: "T1059", TechniqueName: "Command and Scripting Interpreter"},
	"process_creation":      {Tactic: "Execution", TechniqueID: "T1204", TechniqueName: "User Execution"},
	"correlation":           {Tactic: "Defense Evasion", TechniqueID: "T1562", TechniqueName: "Impair Defenses"},
	"syslog":                {Tactic: "Discovery", TechniqueID: "T1082", TechniqueName: "System Information Discovery"},
	"web":                   {Tactic: "Initial Access", TechniqueID: "T1190", TechniqueName: "Exploit Public-Facing Application"},
}

// Enrich attaches a MITRE tag to a when one can be derived. Lookup order:
// exact category match (case-insensitive), then keyword heuristics over the
// title and description. Alerts with no match are left untagged.
func Enrich(a *Alert) {
	if m, ok := techniques[strings.ToLower(a.Category)]; ok {
		a.Mitre = &m
		return
	}

	text := strings.ToLower(a.Title + " " + a.Description)
	switch {
	case strings.Contains(text, "ssh") && (strings.Contains(text, "fail") || strings.Contains(text, "password")):
		m := techniques["authentication_failed"]
		a.Mitre = &m
	case strings.Contains(text, "powershell") || strings.Contains(text, "cmd.exe"):
		m := techniques["shell"]
		a.Mitre = &m
	}
}

// CorrelationMitre returns the tag applied to synthetic correlation alerts.
func CorrelationMitre() Mitre {
	return techniques["correlation"]
}
