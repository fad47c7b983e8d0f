package mef

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"
)

const (
	soapenvNS = "http://schemas.xmlsoap.org/soap/envelope/"
	mefNS     = "urn:us:gov:treasury:irs:mef"
)

// TransmitterHeader cabecera de identificación que acompaña toda operación
// A2A: quién transmite (EFIN/ETIN), cuándo y con qué software.
type TransmitterHeader struct {
	EFIN       string
	ETIN       string
	SoftwareID string
	Timestamp  time.Time
}

// BodyElement elemento hijo del request (el orden importa para el gateway).
type BodyElement struct {
	Name  string
	Value string
}

// BuildEnvelope arma el envelope de una operación MeF con etree: la
// estructura se construye como árbol, nunca por concatenación de strings,
// así los valores quedan escapados y el documento siempre es bien formado.
func BuildEnvelope(hdr TransmitterHeader, operation string, body []BodyElement) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", soapenvNS)
	env.CreateAttr("xmlns:mef", mefNS)

	header := env.CreateElement("soapenv:Header")
	th := header.CreateElement("mef:TransmitterHeader")
	th.CreateElement("mef:EFIN").SetText(hdr.EFIN)
	th.CreateElement("mef:ETIN").SetText(hdr.ETIN)
	th.CreateElement("mef:Timestamp").SetText(hdr.Timestamp.UTC().Format(time.RFC3339))
	th.CreateElement("mef:SoftwareId").SetText(hdr.SoftwareID)

	req := env.CreateElement("soapenv:Body").CreateElement("mef:" + operation + "Request")
	for _, el := range body {
		req.CreateElement("mef:" + el.Name).SetText(el.Value)
	}

	doc.Indent(2)
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serializar envelope %s: %w", operation, err)
	}
	return out, nil
}

// EncodeReturnData codifica el XML de la declaración para el elemento
// ReturnData (el gateway espera Base64, nunca XML anidado crudo).
func EncodeReturnData(returnXML string) string {
	return base64.StdEncoding.EncodeToString([]byte(returnXML))
}
