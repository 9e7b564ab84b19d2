package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/azogue/pvpcbill/internal/billing"
	"github.com/azogue/pvpcbill/internal/consumption"
	"github.com/azogue/pvpcbill/internal/esios"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/report"
	"github.com/azogue/pvpcbill/internal/service"
	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

const (
	formatJSON = "json"
	formatText = "text"
	formatXLSX = "xlsx"
	formatPDF  = "pdf"
)

var formats = map[string]string{
	formatJSON: "application/json",
	formatText: "text/plain; charset=utf-8",
	formatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	formatPDF:  "application/pdf",
}

// billRequest is the body of a bill request. Contract fields left out take the
// configured defaults.
type billRequest struct {
	Contract    model.Contract `json:"contract"`
	Consumption []sampleBody   `json:"consumption" validate:"required,min=1,dive"`
	Prices      []priceBody    `json:"prices" validate:"omitempty,dive"`
}

type sampleBody struct {
	Time model.Timestamp `json:"time"`
	KWh  float64         `json:"kwh" validate:"gte=0"`
}

// priceBody carries hourly PVPC prices in EUR/MWh.
type priceBody struct {
	Time   model.Timestamp `json:"time"`
	GEN    float64         `json:"GEN"`
	NOC    float64         `json:"NOC"`
	VHC    float64         `json:"VHC"`
	TEUGEN float64         `json:"TEUGEN"`
	TEUNOC float64         `json:"TEUNOC"`
	TEUVHC float64         `json:"TEUVHC"`
}

// errInvalidRequest marks a body that decodes but does not validate.
var errInvalidRequest = errors.New("invalid bill request")

func (s *HTTPServer) decodeRequest(raw json.RawMessage) (service.Request, error) {
	body := billRequest{Contract: s.defaults}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return service.Request{}, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if err := s.validate.Struct(body); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return service.Request{}, fmt.Errorf("%w: %v", errInvalidRequest, verrs)
		}
		return service.Request{}, err
	}

	req := service.Request{
		Contract:    body.Contract,
		Consumption: make(timeseries.Series, len(body.Consumption)),
	}
	for i, smp := range body.Consumption {
		req.Consumption[i] = timeseries.Sample{Time: smp.Time.Time, Value: smp.KWh}
	}
	for _, p := range body.Prices {
		req.Prices = append(req.Prices, esios.HourlyPrice{
			Time:   p.Time.Time,
			GEN:    p.GEN,
			NOC:    p.NOC,
			VHC:    p.VHC,
			TEUGEN: p.TEUGEN,
			TEUNOC: p.TEUNOC,
			TEUVHC: p.TEUVHC,
		})
	}
	return req, nil
}

// limitBody caps the request body when a limit is configured.
func (s *HTTPServer) limitBody(w http.ResponseWriter, r *http.Request) {
	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
}

// decodeStatus is the status of an undecodable body.
func decodeStatus(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// statusFor maps computation errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, tariff.ErrConfiguration),
		errors.Is(err, model.ErrInvalidContract):
		return http.StatusUnprocessableEntity
	case errors.Is(err, timeseries.ErrInputAlignment),
		errors.Is(err, timeseries.ErrUnordered),
		errors.Is(err, timeseries.ErrNonFinite),
		errors.Is(err, billing.ErrOutOfRange),
		errors.Is(err, billing.ErrEmptySeries),
		errors.Is(err, billing.ErrMixedYears),
		errors.Is(err, billing.ErrCoverage),
		errors.Is(err, consumption.ErrMalformedSource):
		return http.StatusBadRequest
	case errors.Is(err, esios.ErrUnavailable),
		errors.Is(err, esios.ErrBadResponse),
		errors.Is(err, service.ErrNoPrices):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// render encodes the bill in format and names the attachment file.
func (s *HTTPServer) render(bill model.Bill, format string) (body []byte, filename string, err error) {
	ext := format
	switch format {
	case formatJSON:
		body, err = json.Marshal(bill)
	case formatText:
		var text string
		text, err = report.Text(bill, s.tables)
		body, ext = []byte(text), "txt"
	case formatXLSX:
		body, err = report.XLSX(bill)
	case formatPDF:
		body, err = report.PDF(bill)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	return body, bill.Identifier() + "." + ext, err
}
