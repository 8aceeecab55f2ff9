package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
	directoryx "github.com/tanpawarit/voice-agent-orchestrator/agent/directory"
)

const NamePhoneWalletLookup = "phone_wallet_lookup"

const (
	LookupPhoneToWallet     = "phone_to_wallet"
	LookupWalletToPhone     = "wallet_to_phone"
	LookupCheckRegistration = "check_registration"
)

// Directory is the user store the lookup agent reads.
type Directory interface {
	ByPhone(ctx context.Context, phone string) (*directoryx.User, error)
	ByWallet(ctx context.Context, wallet string) (*directoryx.User, error)
}

type LookupArgs struct {
	LookupType    string `json:"lookupType" jsonschema:"the kind of lookup to perform"`
	PhoneNumber   string `json:"phoneNumber,omitempty" jsonschema:"phone number to look up, defaults to the caller's number"`
	WalletAddress string `json:"walletAddress,omitempty" jsonschema:"wallet address to look up"`
}

type LookupResult struct {
	Success          bool   `json:"success"`
	Found            bool   `json:"found"`
	Wallet           string `json:"wallet,omitempty"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	PhoneRegistered  *bool  `json:"phoneRegistered,omitempty"`
	WalletRegistered *bool  `json:"walletRegistered,omitempty"`
	Message          string `json:"message,omitempty"`
}

type PhoneWalletLookup struct {
	spec      argSpec
	activity  *activity
	directory Directory
}

var _ contractx.Agent = (*PhoneWalletLookup)(nil)

func NewPhoneWalletLookup(directory Directory) *PhoneWalletLookup {
	return &PhoneWalletLookup{
		spec: mustArgSpec[LookupArgs](func(s *jsonschema.Schema) {
			setProperty(s, "lookupType", func(p *jsonschema.Schema) {
				p.Enum = []any{LookupPhoneToWallet, LookupWalletToPhone, LookupCheckRegistration}
			})
		}),
		activity:  newActivity(),
		directory: directory,
	}
}

func (p *PhoneWalletLookup) Name() string { return NamePhoneWalletLookup }

func (p *PhoneWalletLookup) Description() string {
	return "Looks up wallet addresses from phone numbers and phone numbers from wallet addresses using registration data."
}

func (p *PhoneWalletLookup) ParametersSchema() json.RawMessage { return p.spec.raw }

func (p *PhoneWalletLookup) ContextInfo() string { return p.activity.get() }

func (p *PhoneWalletLookup) HandleTask(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decodeArgs[LookupArgs](p.spec, args)
	if err != nil {
		return nil, err
	}

	phone := in.PhoneNumber
	if phone == "" && in.LookupType != LookupWalletToPhone {
		if env, ok := contractx.EnvironmentFrom(ctx); ok {
			phone = env.String(contractx.EnvCaller)
		}
	}

	switch in.LookupType {
	case LookupPhoneToWallet:
		if phone == "" {
			p.activity.set("Missing phone number for %s.", in.LookupType)
			return LookupResult{Message: "Phone number is required for phone_to_wallet lookup"}, nil
		}
		p.activity.set("Looked up wallet for phone %s.", directoryx.NormalizePhone(phone))
		u, err := p.directory.ByPhone(ctx, phone)
		if errors.Is(err, directoryx.ErrUserNotFound) {
			return LookupResult{Success: true, Message: "No wallet found for this phone number"}, nil
		}
		if err != nil {
			return nil, err
		}
		return LookupResult{Success: true, Found: true, Wallet: u.Wallet}, nil

	case LookupWalletToPhone:
		if in.WalletAddress == "" {
			p.activity.set("Missing wallet address for %s.", in.LookupType)
			return LookupResult{Message: "Wallet address is required for wallet_to_phone lookup"}, nil
		}
		p.activity.set("Looked up phone for wallet %s.", directoryx.NormalizeWallet(in.WalletAddress))
		u, err := p.directory.ByWallet(ctx, in.WalletAddress)
		if errors.Is(err, directoryx.ErrUserNotFound) {
			return LookupResult{Success: true, Message: "No phone number found for this wallet address"}, nil
		}
		if err != nil {
			return nil, err
		}
		return LookupResult{Success: true, Found: true, PhoneNumber: u.Phone}, nil

	case LookupCheckRegistration:
		if phone == "" && in.WalletAddress == "" {
			return LookupResult{Message: "Either phone number or wallet address is required for check_registration"}, nil
		}
		p.activity.set("Checked registration status.")
		out := LookupResult{Success: true}
		if phone != "" {
			registered, err := exists(p.directory.ByPhone(ctx, phone))
			if err != nil {
				return nil, err
			}
			out.PhoneRegistered = &registered
			out.Found = registered
		}
		if in.WalletAddress != "" {
			registered, err := exists(p.directory.ByWallet(ctx, in.WalletAddress))
			if err != nil {
				return nil, err
			}
			out.WalletRegistered = &registered
			out.Found = out.Found || registered
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: invalid lookup type %q", contractx.ErrValidation, in.LookupType)
	}
}

func exists(_ *directoryx.User, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, directoryx.ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}
