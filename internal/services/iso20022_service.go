package services

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/centralcitybank/backend/internal/middleware"
	"github.com/centralcitybank/backend/internal/models"
)

// ISO20022Service books outbound international transfers and expresses them
// as pacs.008 credit transfer messages for the settlement rail.
type ISO20022Service struct {
	ledger    *LedgerService
	auth      *AuthService
	validator *ValidationHelper
}

func NewISO20022Service(ledger *LedgerService, auth *AuthService) *ISO20022Service {
	return &ISO20022Service{
		ledger:    ledger,
		auth:      auth,
		validator: NewValidationHelper(),
	}
}

type InternationalTransferRequest struct {
	AccountNumber    string `json:"accountNumber" validate:"required,len=10,numeric"`
	AccountPin       string `json:"accountPin" validate:"required,len=4,numeric"`
	Amount           int64  `json:"amount" validate:"required,gt=0"`
	Currency         string `json:"currency" validate:"required,len=3,uppercase"`
	RecipientName    string `json:"recipientName" validate:"required,min=2,max=140"`
	RecipientIBAN    string `json:"recipientIBAN" validate:"required,min=15,max=34"`
	RecipientSwift   string `json:"recipientSwiftCode" validate:"required,min=8,max=11"`
	RecipientBank    string `json:"recipientBankName" validate:"required,min=2"`
	RecipientCountry string `json:"recipientCountry" validate:"required,len=2,uppercase"`
	Description      string `json:"description" validate:"max=200"`
}

// InternationalTransfer debits the sender and emits a pacs.008 message
// @Summary International transfer
// @Description Send money abroad over the ISO 20022 settlement rail
// @Tags transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InternationalTransferRequest true "Transfer request"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Router /transfers/international [post]
func (iso *ISO20022Service) InternationalTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req InternationalTransferRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := iso.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := iso.auth.verifyAccountOwnerPin(req.AccountNumber, userID, req.AccountPin); err != nil {
		SendErrorResponse(w, "Invalid account PIN", http.StatusUnauthorized, nil)
		return
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("International transfer to %s", req.RecipientName)
	}

	txn, err := iso.ledger.Transfer(req.AccountNumber, req.Amount, description, models.Metadata{
		"recipientName":    req.RecipientName,
		"recipientIBAN":    req.RecipientIBAN,
		"recipientSwift":   req.RecipientSwift,
		"recipientBank":    req.RecipientBank,
		"recipientCountry": req.RecipientCountry,
		"currency":         req.Currency,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			SendErrorResponse(w, "Insufficient funds", http.StatusPaymentRequired, nil)
			return
		}
		if errors.Is(err, ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Transfer failed", http.StatusInternalServerError, nil)
		return
	}

	pacs008, err := iso.CreatePacs008(txn.TransactionID, &req)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := iso.ConvertToXML(pacs008)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	pacs002, err := iso.CreatePacs002(txn.TransactionID, "ACCP")
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}
	if err := iso.SendToSettlement(pacs002); err != nil {
		log.Printf("[ISO20022] Settlement dispatch failed for %s: %v", txn.TransactionID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "accepted",
		"messageType": "pacs.008.001.08",
		"transaction": txn,
		"xml":         xmlData,
	})
}

func (iso *ISO20022Service) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: replace with the clearing partner's submission endpoint once
	// onboarding completes.
	log.Printf("[ISO20022] Sending to settlement: %s", string(xmlData))
	return nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message
func (iso *ISO20022Service) CreatePacs008(transactionID string, req *InternationalTransferRequest) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	amount := float64(req.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(req.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(transactionID)}[0],
					EndToEndId: common.Max35Text(transactionID),
					TxId:       &[]common.Max35Text{common.Max35Text(transactionID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(req.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("CCBKUS33")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.AccountNumber)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(req.RecipientSwift)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.RecipientName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report
func (iso *ISO20022Service) CreatePacs002(transactionID, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(transactionID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(transactionID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(transactionID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts an ISO 20022 document to an XML string
func (iso *ISO20022Service) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
