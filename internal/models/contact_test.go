package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyRequestDecoding(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEmail string
		wantPhone string
		wantErr   bool
	}{
		{
			name:      "string phone",
			body:      `{"email":"doc@hillvalley.edu","phoneNumber":"123456"}`,
			wantEmail: "doc@hillvalley.edu",
			wantPhone: "123456",
		},
		{
			name:      "numeric phone",
			body:      `{"phoneNumber":123456}`,
			wantPhone: "123456",
		},
		{
			name:      "numeric phone with exponent",
			body:      `{"phoneNumber":1.23456e5}`,
			wantPhone: "123456",
		},
		{
			name:      "null fields",
			body:      `{"email":null,"phoneNumber":null}`,
			wantEmail: "",
			wantPhone: "",
		},
		{
			name:    "fractional phone",
			body:    `{"phoneNumber":12.5}`,
			wantErr: true,
		},
		{
			name:    "boolean phone",
			body:    `{"phoneNumber":true}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req IdentifyRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, req.EmailValue())
			assert.Equal(t, tt.wantPhone, req.PhoneValue())
		})
	}
}

func TestIdentifyResponseWireFormat(t *testing.T) {
	resp := IdentifyResponse{Contact: ContactResponse{
		PrimaryContactID:    1,
		Emails:              []string{"lorraine@hillvalley.edu"},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{23},
	}}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"contact":{"primaryContactId":1,"emails":["lorraine@hillvalley.edu"],"phoneNumbers":[],"secondaryContactIds":[23]}}`,
		string(data))
}

func TestContactClone(t *testing.T) {
	linked := int64(7)
	c := &Contact{
		ID:             9,
		Email:          StringPtr("marty@hillvalley.edu"),
		LinkedID:       &linked,
		LinkPrecedence: PrecedenceSecondary,
	}

	clone := c.Clone()
	*clone.Email = "biff@hillvalley.edu"
	*clone.LinkedID = 1

	assert.Equal(t, "marty@hillvalley.edu", c.EmailValue())
	assert.Equal(t, int64(7), *c.LinkedID)
	assert.Nil(t, clone.PhoneNumber)
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	require.NotNil(t, StringPtr("x"))
	assert.Equal(t, "x", *StringPtr("x"))
}
