package vault

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// ImportFile is the YAML layout accepted by Import.
//
//	ciphers:
//	  - name: Example
//	    type: login
//	    login:
//	      username: alice
//	      password: hunter2
//	      uris: [https://example.com]
type ImportFile struct {
	Ciphers []ImportCipher `yaml:"ciphers"`
}

type ImportCipher struct {
	ID       string              `yaml:"id"`
	Name     string              `yaml:"name"`
	Type     string              `yaml:"type"`
	Favorite bool                `yaml:"favorite"`
	Reprompt bool                `yaml:"reprompt"`
	Login    *types.LoginView    `yaml:"login"`
	Card     *types.CardView     `yaml:"card"`
	Identity *types.IdentityView `yaml:"identity"`
}

func (c ImportCipher) view() (types.CipherView, error) {
	typ, ok := types.ParseCipherType(c.Type)
	if !ok {
		return types.CipherView{}, types.NewError(types.CodeValidation, fmt.Sprintf("cipher %q: unknown type %q", c.Name, c.Type), nil)
	}
	v := types.CipherView{
		ID:       c.ID,
		Name:     c.Name,
		Type:     typ,
		Favorite: c.Favorite,
		Login:    c.Login,
		Card:     c.Card,
		Identity: c.Identity,
	}
	if c.Reprompt {
		v.Reprompt = types.RepromptPassword
	}
	return v, nil
}

// Import reads an ImportFile from r and stores every cipher. It validates
// the whole file before writing anything.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	var file ImportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return 0, types.NewError(types.CodeValidation, "decode import file", err)
	}

	views := make([]types.CipherView, 0, len(file.Ciphers))
	for _, c := range file.Ciphers {
		v, err := c.view()
		if err != nil {
			return 0, err
		}
		views = append(views, v)
	}
	for i, v := range views {
		if _, err := s.Add(ctx, v); err != nil {
			return i, fmt.Errorf("vault: import %q: %w", v.Name, err)
		}
	}
	return len(views), nil
}
