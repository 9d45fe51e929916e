package deployer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
)

// exclusionScript adds every path missing from the Defender exclusion list
// and prints {"added":[...],"failed":[...]}.
func exclusionScript(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = "'" + strings.ReplaceAll(p, "'", "''") + "'"
	}
	return "try { $existing=(Get-MpPreference).ExclusionPath; $added=@(); $failed=@();" +
		"foreach($p in @(" + strings.Join(quoted, ",") + ")) { if($existing -notcontains $p) " +
		"{ try { Add-MpPreference -ExclusionPath $p; $added += $p } catch { $failed += $p } } }" +
		"@{added=$added; failed=$failed} | ConvertTo-Json -Compress } catch { Write-Error $_; exit 1 }"
}

// pathList decodes a ConvertTo-Json value, which is null, a string or a
// list depending on how many paths it holds.
type pathList []string

func (l *pathList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*l = pathList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type exclusionResult struct {
	Added  pathList `json:"added"`
	Failed pathList `json:"failed"`
}

// AddDefenderExclusions excludes the package folders from Windows Defender
// scans before extraction. It usually needs administrator rights.
func (d *Deployer) AddDefenderExclusions(ctx context.Context) Report {
	const component = "Defender exclusions"
	paths := d.cfg.DefenderExclusions
	if len(paths) == 0 {
		return Report{Component: component, Status: StatusSkipped, Message: "no paths configured"}
	}

	out, err := d.run(ctx, Command{
		Name: d.cfg.PowerShell,
		Args: []string{"-NoProfile", "-NonInteractive", "-Command", exclusionScript(paths)},
	})
	if err != nil {
		return d.failed(ctx, component, apperrors.CodeDefender, "could not start PowerShell", out, err)
	}
	if out.ExitCode != 0 {
		return d.failed(ctx, component, apperrors.CodeDefender, fmt.Sprintf("PowerShell exited with code %d", out.ExitCode), out, nil)
	}

	var res exclusionResult
	if text := strings.TrimSpace(out.Stdout); text != "" {
		if err := json.Unmarshal([]byte(text), &res); err != nil {
			return d.failed(ctx, component, apperrors.CodeDefender, "unreadable PowerShell output", out, err)
		}
	}

	if len(res.Failed) > 0 {
		return d.failed(ctx, component, apperrors.CodeDefender, "failed to add "+strings.Join(res.Failed, ", "), out, nil)
	}
	if len(res.Added) == 0 {
		return Report{Component: component, Status: StatusAlreadyPresent, Message: "no changes needed"}
	}

	d.log.InfoContext(ctx, "Defender exclusions added", logger.String("paths", strings.Join(res.Added, ", ")))
	return Report{Component: component, Status: StatusDone, Message: "added " + strings.Join(res.Added, ", ")}
}
