package task

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ParameterDoc is a task's input parameter document. The task definition
// carries one with default values; a submission may carry another whose
// values override the defaults per parameter name.
type ParameterDoc struct {
	XMLName    xml.Name    `xml:"parameters"`
	Parameters []Parameter `xml:"parameter"`
}

type Parameter struct {
	ID          string          `xml:"id,attr,omitempty"`
	Required    string          `xml:"required,attr,omitempty"`
	Prompt      string          `xml:"prompt,attr,omitempty"`
	EncryptAttr string          `xml:"encrypt,attr,omitempty"`
	Name        string          `xml:"name"`
	Desc        string          `xml:"desc,omitempty"`
	Values      ParameterValues `xml:"values"`
}

type ParameterValues struct {
	PresentAs string           `xml:"present_as,attr,omitempty"`
	Value     []ParameterValue `xml:"value"`
}

type ParameterValue struct {
	OEV  string `xml:"oev,attr,omitempty"`
	Text string `xml:",chardata"`
}

// Encrypt reports whether the parameter's values are sensitive and must be
// masked from logs.
func (p *Parameter) Encrypt() bool {
	switch strings.ToLower(p.EncryptAttr) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// ParseParameterDoc decodes a parameter document.
func ParseParameterDoc(xmlText string) (*ParameterDoc, error) {
	var doc ParameterDoc
	if err := xml.Unmarshal([]byte(xmlText), &doc); err != nil {
		return nil, fmt.Errorf("parameter document does not parse: %w", err)
	}
	return &doc, nil
}

// MergeParameters overlays submitted values onto a task's default parameter
// document. An override replaces the matched parameter's whole value set;
// partial merges inside one parameter are not a thing. Parameters the
// defaults never mention pass through appended. Either side may be empty.
func MergeParameters(defaultXML, overrideXML string) (string, error) {
	if strings.TrimSpace(overrideXML) == "" {
		return defaultXML, nil
	}
	if strings.TrimSpace(defaultXML) == "" {
		return overrideXML, nil
	}
	base, err := ParseParameterDoc(defaultXML)
	if err != nil {
		return "", fmt.Errorf("default parameters: %w", err)
	}
	over, err := ParseParameterDoc(overrideXML)
	if err != nil {
		return "", fmt.Errorf("submitted parameters: %w", err)
	}
	for _, o := range over.Parameters {
		replaced := false
		for i := range base.Parameters {
			if strings.EqualFold(base.Parameters[i].Name, o.Name) {
				base.Parameters[i].Values = o.Values
				replaced = true
				break
			}
		}
		if !replaced {
			base.Parameters = append(base.Parameters, o)
		}
	}
	out, err := xml.Marshal(base)
	if err != nil {
		return "", fmt.Errorf("encoding merged parameters: %w", err)
	}
	return string(out), nil
}
