package discover

import (
	"log/slog"

	"github.com/jmorganca/ggml-sys/envconfig"
)

// Probe derives the platform descriptor and CPU feature set from env, and
// reports how the features were obtained. A missing target OS, target
// triple or host triple is a precondition failure.
func Probe(env envconfig.BuildEnv) (Platform, FeatureSet, DetectionMode, error) {
	if err := env.Require(); err != nil {
		return Platform{}, nil, "", err
	}

	p := Platform{
		HostTriple:   env.Host,
		TargetTriple: env.Target,
		TargetOS:     ParseOS(env.TargetOS),
		CrossCompile: env.Host != env.Target,
	}

	fs, mode := Features(p, env.TargetFeatures)
	slog.Info("probed platform",
		"host", p.HostTriple,
		"target", p.TargetTriple,
		"os", p.TargetOS,
		"cross", p.CrossCompile,
		"detection", mode,
		"features", fs.String())
	return p, fs, mode, nil
}
