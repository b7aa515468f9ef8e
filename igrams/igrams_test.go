package igrams

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/service"
)

func writeTool(t *testing.T, dir, name, script string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0755); err != nil {
		t.Fatalf("writeTool %s: %v", name, err)
	}
}

func testStack(t *testing.T) common.Stack {
	t.Helper()
	stack := common.DefaultStack()
	stack.Site = "Dhorse"
	stack.Flightline = "08701"
	stack.RootDir = t.TempDir()
	stack.DownloadDir = t.TempDir()
	stack.DEM = "/dem/elevation.dem"
	stack.Doppler = "dhorse_08701_01_BC.dop"
	return stack
}

func TestPatchConfigs(t *testing.T) {
	dir := t.TempDir()
	igram := filepath.Join(dir, "config_igram_20210831_20211109")
	content := "reference : /stack/s1_hh/merged/SLC/20210831/ref.slc\n" +
		"secondary : /stack/s1_hh/merged/SLC/20211109/sec.slc\n"
	if err := os.WriteFile(igram, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	clean := filepath.Join(dir, "config_igram_20210907_20211109")
	if err := os.WriteFile(clean, []byte("already : /stack/s1_hh/20210907/x.slc\n"), 0644); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(dir, "config_reference")
	if err := os.WriteFile(other, []byte("path : /stack/merged/SLC/x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := PatchConfigs(dir)
	if err != nil {
		t.Fatalf("PatchConfigs: %v", err)
	}
	if n != 1 {
		t.Errorf("PatchConfigs rewrote %d files, want 1", n)
	}

	got, err := os.ReadFile(igram)
	if err != nil {
		t.Fatal(err)
	}
	want := "reference : /stack/s1_hh/20210831/ref.slc\n" +
		"secondary : /stack/s1_hh/20211109/sec.slc\n"
	if string(got) != want {
		t.Errorf("patched config:\n%s\nwant:\n%s", got, want)
	}

	if got, _ := os.ReadFile(other); strings.Contains(string(got), "/stack/x") {
		t.Errorf("config_reference was patched, glob should not match it")
	}
}

func TestPatchConfigsNoDir(t *testing.T) {
	n, err := PatchConfigs(filepath.Join(t.TempDir(), "configs"))
	if err != nil {
		t.Fatalf("PatchConfigs on missing dir: %v", err)
	}
	if n != 0 {
		t.Errorf("PatchConfigs rewrote %d files, want 0", n)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	toolDir := t.TempDir()
	// sorted argv of the prepare step: -d doppler -i slc -o unitdir -s segment
	writeTool(t, toolDir, "prepareUAVSAR_coregStack.py",
		"#!/bin/sh\nmkdir -p \"$6/20210831\" \"$6/20211109\"\n")
	writeTool(t, toolDir, "stackStripMap.py",
		"#!/bin/sh\nmkdir -p run_files configs\n"+
			"echo \"reference : /stack/s1_hh/merged/SLC/20210831/ref.slc\" > configs/config_igram_20210831_20211109\n")
	writeTool(t, toolDir, "run.py",
		"#!/bin/sh\nmkdir -p Igrams geom_reference baselines referenceShelve coregSLC offsets\n"+
			"touch Igrams/filt_20210831_20211109.unw coregSLC/ref.slc.full\n")
	t.Setenv("TOOLPATH", toolDir)

	stack := testStack(t)
	archiveDir := t.TempDir()
	storage, err := service.NewStorageStrategy(ctx, archiveDir)
	if err != nil {
		t.Fatalf("NewStorageStrategy: %v", err)
	}

	p := Processor{Stack: stack, Storage: storage}
	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Units) != 1 {
		t.Fatalf("report has %d units, want 1", len(report.Units))
	}
	if report.Units[0].Unit != "Dhorse_08701_s1_hh" || report.Units[0].Status != common.StatusDONE {
		t.Errorf("unit report = %+v, want Dhorse_08701_s1_hh DONE", report.Units[0])
	}

	// report flushed next to the stack
	data, err := os.ReadFile(filepath.Join(stack.RootDir, ReportFile))
	if err != nil {
		t.Fatalf("report file: %v", err)
	}
	var onDisk RunReport
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("report json: %v", err)
	}
	if onDisk.Stack != "Dhorse_08701" || onDisk.Units[0].Status != common.StatusDONE {
		t.Errorf("on-disk report = %+v", onDisk)
	}
	if onDisk.RunID != report.RunID || onDisk.RunID == "" {
		t.Errorf("on-disk run id = %q, want %q", onDisk.RunID, report.RunID)
	}

	// to-create layers archived
	for _, layer := range []string{"Igrams", "geom_reference", "baselines", "referenceShelve"} {
		zip := filepath.Join(archiveDir, "Dhorse_08701_s1_hh_"+layer+".zip")
		if _, err := os.Stat(zip); err != nil {
			t.Errorf("archived layer %s: %v", layer, err)
		}
	}

	// to-delete layers removed
	unitDir := filepath.Join(stack.RootDir, "s1_hh")
	for _, layer := range []string{"coregSLC", "offsets"} {
		if _, err := os.Stat(filepath.Join(unitDir, layer)); !os.IsNotExist(err) {
			t.Errorf("layer %s still present (err=%v), want deleted", layer, err)
		}
	}

	// configs patched between the two graphs
	got, err := os.ReadFile(filepath.Join(unitDir, "configs", "config_igram_20210831_20211109"))
	if err != nil {
		t.Fatalf("patched config: %v", err)
	}
	if want := "reference : /stack/s1_hh/20210831/ref.slc\n"; string(got) != want {
		t.Errorf("patched config = %q, want %q", got, want)
	}
}

func TestRunFailure(t *testing.T) {
	ctx := context.Background()

	toolDir := t.TempDir()
	writeTool(t, toolDir, "prepareUAVSAR_coregStack.py",
		"#!/bin/sh\nmkdir -p \"$6/20210831\"\n")
	writeTool(t, toolDir, "stackStripMap.py",
		"#!/bin/sh\nmkdir -p run_files configs\n")
	writeTool(t, toolDir, "run.py",
		"#!/bin/sh\necho \"ERROR: resamp failed\" >&2\nexit 1\n")
	t.Setenv("TOOLPATH", toolDir)

	stack := testStack(t)
	p := Processor{Stack: stack}
	report, err := p.Run(ctx)
	if err == nil {
		t.Fatal("Run succeeded, want failure")
	}
	if !strings.Contains(err.Error(), "resamp failed") {
		t.Errorf("error %q does not carry the toolchain message", err)
	}
	if report.Units[0].Status != common.StatusFAILED || report.Units[0].Error == "" {
		t.Errorf("unit report = %+v, want FAILED with message", report.Units[0])
	}

	// the report is flushed even when the run fails
	data, err := os.ReadFile(filepath.Join(stack.RootDir, ReportFile))
	if err != nil {
		t.Fatalf("report file: %v", err)
	}
	var onDisk RunReport
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("report json: %v", err)
	}
	if onDisk.Units[0].Status != common.StatusFAILED {
		t.Errorf("on-disk status = %v, want FAILED", onDisk.Units[0].Status)
	}
}
