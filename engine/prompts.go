package engine

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/contract_template.txt
var contractTemplate string

//go:embed prompts/revenue_leakage_points.txt
var revenueLeakagePoints string

//go:embed prompts/contract_info_extraction.tmpl
var contractInfoExtractionText string

var contractInfoExtraction = template.Must(template.New("contract_info_extraction").
	Funcs(template.FuncMap{"add": func(a, b int) int { return a + b }}).
	Parse(contractInfoExtractionText))

// ExtractionParameters are the contract terms pulled from each chunk before a
// standards comparison.
var ExtractionParameters = []string{
	"Payment Amount",
	"Payment Schedule",
	"Incentives and Penalties",
	"Price Adjustment Clauses",
	"Scope of Work",
	"Deliverables",
	"Quality Standards",
	"Contract Duration",
	"Termination Clauses",
	"Renewal Terms",
	"Roles and Responsibilities",
	"Compliance Requirements",
	"Reporting and Monitoring",
	"Liability Clauses",
	"Insurance Requirements",
	"Force Majeure",
	"Governing Law",
	"Arbitration and Mediation",
	"Litigation",
	"Confidentiality Clauses",
	"Intellectual Property Rights",
	"Amendment Procedures",
	"Flexibility",
	"Key Performance Indicators",
	"Service Level Agreements",
	"Subcontracting",
	"Third-Party Approvals",
}

func smallSummaryPrompt(text string) string {
	return fmt.Sprintf("Provide clear and concise summary of %s explaining the important dates, payment details and contract details", text)
}

func chunkSummaryPrompt(chunk string) string {
	return "Provide a clear and concise summary of the following text: " + chunk
}

func revenueLeakagePrompt(chunk string) string {
	return fmt.Sprintf("Identify the potential revenue leakages in the %s by referring to the %s", chunk, revenueLeakagePoints)
}

func conversationalPrompt(text, query string) string {
	prompt := "Analyse the passed contract and answer the user query based on the passed contract text. CONTRACT TEXT : " + text
	if query = strings.TrimSpace(query); query != "" {
		prompt += "\nUSER QUERY : " + query
	}
	return prompt
}

func compareStandardsPrompt(contract, master string) string {
	return fmt.Sprintf("Compare the %s standards with the %s standards.", contract, master)
}

func customContractPrompt(userPrompt string) string {
	return fmt.Sprintf("Based on the provided input: %s, generate a contract agreement.\n"+
		"Use the following template as a structure example but ensure to incorporate the input appropriately:\n%s",
		userPrompt, contractTemplate)
}

func contractInfoExtractionPrompt(chunk string) (string, error) {
	var b strings.Builder
	err := contractInfoExtraction.Execute(&b, struct {
		ContractText string
		Parameters   []string
	}{ContractText: chunk, Parameters: ExtractionParameters})
	if err != nil {
		return "", fmt.Errorf("render extraction prompt: %w", err)
	}
	return b.String(), nil
}
