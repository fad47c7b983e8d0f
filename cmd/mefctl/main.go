// mefctl herramienta de operación del módulo e-file: validar declaraciones
// sin transmitir, consultar estados en el gateway, reconciliar acuses y
// revisar la configuración activa.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	appefile "github.com/jhoicas/Efile-api/internal/application/efile"
	"github.com/jhoicas/Efile-api/internal/domain/rules"
	inframef "github.com/jhoicas/Efile-api/internal/infrastructure/mef"
	"github.com/jhoicas/Efile-api/internal/infrastructure/postgres"
	"github.com/jhoicas/Efile-api/pkg/config"
	"github.com/jhoicas/Efile-api/pkg/logger"
)

var (
	flagReturnType  string
	flagTaxYear     string
	flagEnvironment string
)

var rootCmd = &cobra.Command{
	Use:   "mefctl",
	Short: "Operación del módulo e-file IRS MeF",
	Long: `mefctl opera el módulo e-file desde la terminal:

  mefctl validate declaracion.xml --type 1040   # reglas de negocio, sin transmitir
  mefctl status 554435-ABC123-DEADBEEF           # estado del envío en el gateway
  mefctl reconcile                               # trae y aplica acuses nuevos
  mefctl info                                    # configuración activa (sin secretos)`,
	SilenceUsage: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate <archivo.xml>",
	Short: "Valida una declaración contra las reglas de negocio MeF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("leyendo %s: %w", args[0], err)
		}
		result := rules.NewValidator().Validate(string(raw), flagReturnType, &rules.Context{
			TaxYear:     flagTaxYear,
			ReturnType:  flagReturnType,
			Environment: flagEnvironment,
		})
		printJSON(result)
		if !result.Valid {
			os.Exit(1)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <submission-id>",
	Short: "Consulta el estado MeF de un envío",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		client, cleanup, err := buildClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		res := client.GetSubmissionStatus(ctx, args[0])
		if !res.Success {
			return res.Err
		}
		fmt.Printf("%s\t%s\n", args[0], res.Data)
		return nil
	},
}

var acksCmd = &cobra.Command{
	Use:   "acks <submission-id>",
	Short: "Trae el acuse de un envío desde el gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		client, cleanup, err := buildClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		res := client.GetAcknowledgment(ctx, args[0])
		if !res.Success {
			return res.Err
		}
		printJSON(res.Data)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Trae los acuses nuevos del gateway y los aplica a sus transmisiones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logger.New(logger.Config{Env: cfg.App.Env, Level: "info"})

		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		defer pool.Close()

		subRepo := postgres.NewSubmissionRepository(pool)
		logRepo := postgres.NewMefLogRepository(pool)
		txRepo := postgres.NewTransmissionRepository(pool)
		runner := postgres.NewTxRunner(pool)

		registry := inframef.NewProfileRegistry(cfg.Mef)
		client, err := inframef.NewClient(cfg.Mef, registry, rules.NewValidator(), log, logRepo, subRepo, nil)
		if err != nil {
			return err
		}

		orch := appefile.NewOrchestrator(txRepo, client, runner, log)
		applied, err := orch.ReconcileAcknowledgments(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("acuses aplicados: %d\n", applied)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Muestra la configuración activa del cliente MeF",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		client, cleanup, err := buildClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		printJSON(client.Info())
		return nil
	},
}

// buildClient arma el cliente MeF con las dependencias mínimas. Si la DB no
// está disponible, opera sin persistencia (log solo en consola).
func buildClient(ctx context.Context) (*inframef.Client, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: "warn"})

	cleanup := func() {}
	var subRepo *postgres.SubmissionRepo
	var logRepo *postgres.MefLogRepo
	if pool, perr := postgres.NewPool(ctx, cfg.DB); perr == nil {
		subRepo = postgres.NewSubmissionRepository(pool)
		logRepo = postgres.NewMefLogRepository(pool)
		cleanup = pool.Close
	} else {
		log.Warn().Err(perr).Msg("sin PostgreSQL, operando sin persistencia")
	}

	registry := inframef.NewProfileRegistry(cfg.Mef)
	var client *inframef.Client
	if subRepo != nil {
		client, err = inframef.NewClient(cfg.Mef, registry, rules.NewValidator(), log, logRepo, subRepo, nil)
	} else {
		client, err = inframef.NewClient(cfg.Mef, registry, rules.NewValidator(), log, nil, nil, nil)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return client, cleanup, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func init() {
	validateCmd.Flags().StringVar(&flagReturnType, "type", "1040", "tipo de declaración (1040, 1120, 1065, 941...)")
	validateCmd.Flags().StringVar(&flagTaxYear, "year", "", "año fiscal (por defecto se extrae del XML)")
	validateCmd.Flags().StringVar(&flagEnvironment, "env", "ATS", "ambiente de validación: ATS | PRODUCTION")

	rootCmd.AddCommand(validateCmd, statusCmd, acksCmd, reconcileCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
