package cli

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/cli/config"
	"github.com/secmon-lab/titan/pkg/domain/model"
	"github.com/secmon-lab/titan/pkg/repository/file"
	"github.com/secmon-lab/titan/pkg/service/encoder"
	"github.com/secmon-lab/titan/pkg/utils/safe"
	"github.com/urfave/cli/v3"
	"gonum.org/v1/gonum/floats"
)

const DefaultNeighbours = 5

type vaultSummary struct {
	Dir        string      `json:"dir"`
	Dimension  int         `json:"dimension"`
	Memories   int         `json:"memories"`
	Near       string      `json:"near,omitempty"`
	Neighbours []neighbour `json:"neighbours,omitempty"`
}

type neighbour struct {
	ID                 model.MemoryID `json:"id"`
	Distance           float64        `json:"distance"`
	CreatedAt          time.Time      `json:"created_at"`
	Glyph              string         `json:"glyph,omitempty"`
	Thought            string         `json:"thought,omitempty"`
	ConsciousnessLevel float64        `json:"consciousness_level"`
}

func cmdInspect() *cli.Command {
	var (
		dir       string
		dimension int
		near      string
		k         int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print a summary of a file vault without modifying it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "vault-dir",
				Usage:       "Directory holding the memory vault",
				Value:       config.DefaultVaultDir,
				Sources:     cli.EnvVars("TITAN_VAULT_DIR"),
				Destination: &dir,
			},
			&cli.IntFlag{
				Name:        "dimension",
				Usage:       "Embedding dimension of the vault",
				Value:       encoder.DefaultDimension,
				Sources:     cli.EnvVars("TITAN_DIMENSION"),
				Destination: &dimension,
			},
			&cli.StringFlag{
				Name:        "near",
				Usage:       "Memory id whose nearest neighbours are listed",
				Destination: &near,
			},
			&cli.IntFlag{
				Name:        "neighbours",
				Aliases:     []string{"k"},
				Usage:       "Number of neighbours to list",
				Value:       DefaultNeighbours,
				Destination: &k,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			summary, err := inspectVault(ctx, dir, dimension, model.MemoryID(near), k)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, summary)
		},
	}
}

func inspectVault(ctx context.Context, dir string, dimension int, near model.MemoryID, k int) (*vaultSummary, error) {
	vault, err := file.New(ctx, dir, dimension, file.WithReadOnly())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open vault", goerr.V("dir", dir))
	}
	defer safe.Close(ctx, vault)

	summary := &vaultSummary{
		Dir:       dir,
		Dimension: vault.Dimension(),
		Memories:  vault.Count(),
	}
	if near == "" {
		return summary, nil
	}

	origin, err := vault.Get(ctx, near)
	if err != nil {
		return nil, goerr.Wrap(err, "memory not found", goerr.V("id", near))
	}
	summary.Near = string(near)

	// the record itself is its own nearest neighbour
	results, err := vault.Search(ctx, origin.Embedding, k+1)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search vault")
	}

	from := model.ToFloat64(origin.Embedding)
	for _, rec := range results {
		if rec.ID == origin.ID {
			continue
		}
		if len(summary.Neighbours) == k {
			break
		}
		n := neighbour{
			ID:                 rec.ID,
			Distance:           floats.Distance(from, model.ToFloat64(rec.Embedding), 2),
			CreatedAt:          rec.CreatedAt,
			ConsciousnessLevel: rec.Payload.ConsciousnessLevel,
		}
		if rec.Payload.Signal != nil {
			n.Glyph = rec.Payload.Signal.Glyph
			n.Thought = rec.Payload.Signal.Payload.Thought
		}
		summary.Neighbours = append(summary.Neighbours, n)
	}

	return summary, nil
}
