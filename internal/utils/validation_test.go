package utils

import (
	"testing"

	"referral-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStruct_ReportsJSONNames(t *testing.T) {
	errs := ValidateStruct(models.AgentRequisitesUpdate{
		BankName:    "Сбербанк",
		BankAccount: "4081781009991000431X",
		BankBIC:     "04452522",
	})

	require.Len(t, errs, 2)
	assert.Equal(t, ValidationError{Field: "bank_account", Message: "must contain digits only"}, errs[0])
	assert.Equal(t, ValidationError{Field: "bank_bic", Message: "must be exactly 9 characters long"}, errs[1])
}

func TestValidateStruct_Valid(t *testing.T) {
	assert.Nil(t, ValidateStruct(models.CreatePaymentRequest{AmountKopecks: 150000}))
	assert.Nil(t, ValidateStruct(models.AdvancePaymentRequest{Status: models.PaymentSigned}))
}

func TestValidateStruct_Messages(t *testing.T) {
	errs := ValidateStruct(models.CreatePaymentRequest{})
	require.Len(t, errs, 1)
	assert.Equal(t, "amount_kopecks", errs[0].Field)
	assert.Equal(t, "is required", errs[0].Message)

	errs = ValidateStruct(models.AdvancePaymentRequest{Status: "pending"})
	require.Len(t, errs, 1)
	assert.Equal(t, "must be one of: act_generated sent_for_signing signed ready_for_payment processing completed failed", errs[0].Message)

	errs = ValidateStruct(models.UpdateCommissionRequest{CommissionAmountKopecks: -1})
	require.Len(t, errs, 1)
	assert.Equal(t, "must be greater than or equal to 0", errs[0].Message)

	errs = ValidateStruct(models.IngestMessagesRequest{})
	require.Len(t, errs, 1)
	assert.Equal(t, "messages", errs[0].Field)
}

func TestValidateStruct_DivesIntoMessages(t *testing.T) {
	errs := ValidateStruct(models.IngestMessagesRequest{
		Messages: []models.SourceMessage{
			{MessageID: "<ok@medsi.ru>"},
			{SenderEmail: "МЕДСИ <reports@medsi.ru>"},
		},
	})
	require.Len(t, errs, 1)
	assert.Equal(t, "message_id", errs[0].Field)
	assert.Equal(t, "is required", errs[0].Message)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-3", "abc", "1.5"} {
		_, err := ParseID(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseIntOrDefault(t *testing.T) {
	assert.Equal(t, 50, ParseIntOrDefault("", 50, 1, 200))
	assert.Equal(t, 10, ParseIntOrDefault("10", 50, 1, 200))
	assert.Equal(t, 200, ParseIntOrDefault("1000", 50, 1, 200))
	assert.Equal(t, 50, ParseIntOrDefault("0", 50, 1, 200))
	assert.Equal(t, 50, ParseIntOrDefault("ten", 50, 1, 200))
}

func TestCreateListResponse(t *testing.T) {
	resp := CreateListResponse([]string{"a", "b"})
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta.Total)
	assert.Equal(t, 2, *resp.Meta.Total)

	validation := CreateValidationErrorResponse([]ValidationError{{Field: "status", Message: "is required"}})
	assert.False(t, validation.Success)
	assert.Equal(t, "VALIDATION_FAILED", validation.Error.Code)
	assert.Len(t, validation.Error.Fields, 1)
}
