package mef

import (
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/Efile-api/internal/domain"
	"github.com/jhoicas/Efile-api/internal/domain/entity"
)

// Parsing de respuestas del gateway. Regla central: un status ausente o
// irreconocible NUNCA se coacciona a éxito ni a rechazo; se devuelve
// ErrUnparsableResponse y el estado almacenado queda intacto.

// ParseStatusResponse extrae el Status de una respuesta GetSubmissionStatus.
func ParseStatusResponse(raw string) (string, error) {
	doc, err := parseResponse(raw)
	if err != nil {
		return "", err
	}
	status := doc.FindElement("//Status")
	if status == nil || status.Text() == "" {
		return "", fmt.Errorf("respuesta sin elemento Status: %w", domain.ErrUnparsableResponse)
	}
	return status.Text(), nil
}

// ParseAcknowledgment extrae el acuse de una respuesta GetAck para el envío
// dado. AckId puede faltar (el gateway no siempre lo emite); se deriva uno
// determinista por envío para que la idempotencia siga funcionando.
func ParseAcknowledgment(raw, submissionID string) (*entity.Acknowledgment, error) {
	doc, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	return ackFromElement(doc.Root(), submissionID)
}

// ParseAcknowledgments extrae todos los acuses de una respuesta GetNewAcks.
// Los bloques sin SubmissionId o sin Status se omiten: un acuse ilegible no
// invalida el resto del batch.
func ParseAcknowledgments(raw string) ([]*entity.Acknowledgment, error) {
	doc, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	var acks []*entity.Acknowledgment
	for _, el := range doc.FindElements("//Acknowledgment") {
		sub := el.FindElement(".//SubmissionId")
		if sub == nil || sub.Text() == "" {
			continue
		}
		ack, err := ackFromElement(el, sub.Text())
		if err != nil {
			continue
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

func parseResponse(raw string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return nil, fmt.Errorf("respuesta no es XML (%v): %w", err, domain.ErrUnparsableResponse)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("respuesta vacía: %w", domain.ErrUnparsableResponse)
	}
	return doc, nil
}

// ackFromElement arma el acuse desde un subárbol con Status/DCN/AckId/Error.
func ackFromElement(el *etree.Element, submissionID string) (*entity.Acknowledgment, error) {
	status := el.FindElement(".//Status")
	if status == nil || status.Text() == "" {
		return nil, fmt.Errorf("acuse sin Status para %s: %w", submissionID, domain.ErrUnparsableResponse)
	}

	ack := &entity.Acknowledgment{
		AckID:        findChildText(el, ".//AckId"),
		SubmissionID: submissionID,
		Status:       status.Text(),
		DCN:          findChildText(el, ".//DCN"),
		Timestamp:    time.Now().UTC(),
		ReturnType:   findChildText(el, ".//ReturnType"),
		TaxYear:      findChildText(el, ".//TaxYear"),
	}
	if ack.AckID == "" {
		ack.AckID = fmt.Sprintf("ACK-%s-%d", submissionID, time.Now().UnixMilli())
	}

	if ack.Status == entity.MefStatusRejected {
		for _, e := range el.FindElements(".//Error") {
			ack.Errors = append(ack.Errors, entity.AckError{
				Code:     findChildText(e, ".//ErrorCode"),
				Category: "Reject",
				Message:  findChildText(e, ".//ErrorMessage"),
			})
		}
	}
	return ack, nil
}

func findChildText(el *etree.Element, path string) string {
	if c := el.FindElement(path); c != nil {
		return c.Text()
	}
	return ""
}
