package wallet

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrAccountNotFound = errors.New("account not found in keystore")
	ErrPassphraseEmpty = errors.New("keystore passphrase is empty")
)

// Keystore signs with encrypted key files unlocked by a single passphrase.
type Keystore struct {
	ks         *keystore.KeyStore
	passphrase string
	dir        string
}

func NewKeystore(dir string, passphrase string) (*Keystore, error) {
	return newKeystore(dir, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
}

// NewLightKeystore uses cheap scrypt parameters; for tests and dev chains.
func NewLightKeystore(dir string, passphrase string) (*Keystore, error) {
	return newKeystore(dir, passphrase, keystore.LightScryptN, keystore.LightScryptP)
}

func newKeystore(dir string, passphrase string, scryptN, scryptP int) (*Keystore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keystore dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Keystore{
		ks:         keystore.NewKeyStore(dir, scryptN, scryptP),
		passphrase: passphrase,
		dir:        dir,
	}, nil
}

func (k *Keystore) CreateAccount() (common.Address, error) {
	if k.passphrase == "" {
		return common.Address{}, ErrPassphraseEmpty
	}
	acct, err := k.ks.NewAccount(k.passphrase)
	if err != nil {
		return common.Address{}, err
	}
	return acct.Address, nil
}

func (k *Keystore) Accounts() []common.Address {
	list := k.ks.Accounts()
	out := make([]common.Address, 0, len(list))
	for _, acct := range list {
		out = append(out, acct.Address)
	}
	return out
}

func (k *Keystore) HasAccount(addr common.Address) bool {
	return k.ks.HasAddress(addr)
}

func (k *Keystore) findAccount(addr common.Address) (accounts.Account, error) {
	for _, acct := range k.ks.Accounts() {
		if acct.Address == addr {
			return acct, nil
		}
	}
	return accounts.Account{}, ErrAccountNotFound
}

func (k *Keystore) SignTx(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if k.passphrase == "" {
		return nil, ErrPassphraseEmpty
	}
	acct, err := k.findAccount(addr)
	if err != nil {
		return nil, err
	}
	return k.ks.SignTxWithPassphrase(acct, k.passphrase, tx, chainID)
}

func (k *Keystore) Dir() string {
	return filepath.Clean(k.dir)
}

func (k *Keystore) PassphraseSet() bool {
	return k.passphrase != ""
}
