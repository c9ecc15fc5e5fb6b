package helpers

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// solanaPayer decodes a base64 Solana transaction and returns the funding
// account of the first recognizable transfer instruction: a system-program
// transfer or an SPL token transfer.
func solanaPayer(base64Transaction string) (string, error) {
	tx, err := solana.TransactionFromBase64(base64Transaction)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil {
			continue
		}

		var payer string
		switch {
		case prog.Equals(solana.SystemProgramID):
			payer = systemTransferPayer(tx, inst)
		case prog.Equals(solana.TokenProgramID):
			payer = tokenTransferPayer(tx, inst)
		}
		if payer != "" {
			return payer, nil
		}
	}
	return "", nil
}

func systemTransferPayer(tx *solana.Transaction, inst solana.CompiledInstruction) string {
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return ""
	}
	ix, err := system.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return ""
	}
	transfer, ok := ix.Impl.(*system.Transfer)
	if !ok {
		return ""
	}
	return transfer.GetFundingAccount().PublicKey.String()
}

func tokenTransferPayer(tx *solana.Transaction, inst solana.CompiledInstruction) string {
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return ""
	}
	ix, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return ""
	}
	switch transfer := ix.Impl.(type) {
	case *token.Transfer:
		return transfer.GetOwnerAccount().PublicKey.String()
	case *token.TransferChecked:
		return transfer.GetOwnerAccount().PublicKey.String()
	default:
		return ""
	}
}
