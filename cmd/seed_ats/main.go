// seed_ats genera un script SQL con transmisiones en pending a partir de un
// directorio de escenarios ATS (declaraciones XML de prueba del IRS).
// Sirve para poblar el ambiente de aseguramiento antes de una corrida ATS.
//
// Uso: go run ./cmd/seed_ats [ruta/escenarios]
// Por defecto busca ./ats_scenarios en el directorio actual.
// Escribe: migrations/000002_seed_ats_scenarios.up.sql (+ .down.sql)
package main

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

type atsReturn struct {
	Header struct {
		TaxYr        string `xml:"TaxYr"`
		TaxYear      string `xml:"TaxYear"`
		ReturnTypeCd string `xml:"ReturnTypeCd"`
	} `xml:"ReturnHeader"`
}

type scenario struct {
	file       string
	returnType string
	taxYear    string
}

func main() {
	dir := "ats_scenarios"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Leer directorio: %v\n", err)
		os.Exit(1)
	}

	var scenarios []scenario
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".xml") {
			continue
		}
		s, err := parseScenario(filepath.Join(dir, e.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Saltando %s: %v\n", e.Name(), err)
			continue
		}
		scenarios = append(scenarios, s)
	}
	if len(scenarios) == 0 {
		fmt.Fprintln(os.Stderr, "Sin escenarios XML válidos, nada que generar")
		os.Exit(1)
	}
	sort.Slice(scenarios, func(i, j int) bool { return scenarios[i].file < scenarios[j].file })

	moduleRoot := findModuleRoot()
	upPath := filepath.Join(moduleRoot, "migrations", "000002_seed_ats_scenarios.up.sql")
	downPath := filepath.Join(moduleRoot, "migrations", "000002_seed_ats_scenarios.down.sql")

	up, err := os.Create(upPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crear archivo: %v\n", err)
		os.Exit(1)
	}
	defer up.Close()

	// Los escenarios se marcan con return_id negativo: el down los borra sin
	// tocar transmisiones reales.
	up.WriteString("-- Escenarios ATS como transmisiones pending (aseguramiento)\n")
	up.WriteString("-- Generado desde " + dir + "\n\n")
	up.WriteString("INSERT INTO efile_transmissions\n")
	up.WriteString("  (id, return_id, client_id, preparer_id, method, status, efin, environment, refund_amt, balance_due_amt, created_at, updated_at)\nVALUES\n")
	for i, s := range scenarios {
		sep := ","
		if i == len(scenarios)-1 {
			sep = ";"
		}
		fmt.Fprintf(up, "  (gen_random_uuid(), %d, 0, 0, 'ERO', 'pending', '554435', 'ATS', 0, 0, now(), now())%s -- %s (%s %s)\n",
			-(i + 1), sep, escapeSQL(s.file), s.returnType, s.taxYear)
	}

	down, err := os.Create(downPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crear archivo: %v\n", err)
		os.Exit(1)
	}
	defer down.Close()
	down.WriteString("DELETE FROM efile_transmissions WHERE return_id < 0 AND environment = 'ATS';\n")

	fmt.Printf("Generado %s: %d escenarios\n", upPath, len(scenarios))
}

// parseScenario extrae tipo y año fiscal del ReturnHeader. Los escenarios
// históricos del IRS a veces vienen en ISO-8859-1.
func parseScenario(path string) (scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return scenario{}, err
	}
	defer f.Close()

	var r atsReturn
	dec := xml.NewDecoder(f)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "ISO-8859-1") || strings.EqualFold(charset, "ISO8859-1") {
			return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
		}
		return input, nil
	}
	if err := dec.Decode(&r); err != nil {
		return scenario{}, err
	}

	year := r.Header.TaxYr
	if year == "" {
		year = r.Header.TaxYear
	}
	if year == "" {
		return scenario{}, fmt.Errorf("sin año fiscal en ReturnHeader")
	}
	rt := r.Header.ReturnTypeCd
	if rt == "" {
		rt = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return scenario{file: filepath.Base(path), returnType: rt, taxYear: year}, nil
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
